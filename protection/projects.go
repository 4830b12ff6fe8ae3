package protection

// Project describes one collaborator project tracked in summary.json's
// projects array, matching protection_pipeline.py's PROJECT_CATALOGUE.
type Project struct {
	Name  string `json:"name"`
	Stage string `json:"stage,omitempty"` // empty when the project isn't a pipeline stage (e.g. analysis-only)
	Notes string `json:"notes"`
}

// ProjectCatalogue is the static list of collaborator projects this
// gateway's output can credit, mirroring the original's tuple of dicts.
var ProjectCatalogue = []Project{
	{Name: "Pillow", Stage: "runtime", Notes: "Core raster decode/encode and compositing"},
	{Name: "Fawkes", Stage: "fawkes", Notes: "Additive perturbation cloaking research"},
	{Name: "PhotoGuard", Stage: "photoguard", Notes: "Immunization against generative edits"},
	{Name: "Mist", Stage: "mist", Notes: "Style-transfer-resistant perturbation"},
	{Name: "Nightshade", Stage: "nightshade", Notes: "Training-data poisoning research"},
	{Name: "invisible-watermark", Stage: "invisible-watermark", Notes: "LSB invisible watermarking"},
	{Name: "Tree-Ring", Stage: "tree-ring", Notes: "Diffusion watermark via frequency-domain rings"},
	{Name: "Stegano (embed)", Stage: "stegano-embed", Notes: "LSB steganographic payload embedding"},
	{Name: "Stegano (analysis)", Stage: "", Notes: "Steganography detection/analysis tooling"},
	{Name: "Poison Mask Processor", Stage: "", Notes: "Reversibility mask codec"},
	{Name: "CorruptEncoder", Stage: "", Notes: "Data poisoning for contrastive pretraining"},
	{Name: "SecMI", Stage: "", Notes: "Membership inference research"},
	{Name: "MIA-diffusion", Stage: "", Notes: "Membership inference for diffusion models"},
	{Name: "pytineye", Stage: "", Notes: "Reverse image search client"},
	{Name: "hCaptcha-challenger", Stage: "", Notes: "CAPTCHA-solving research"},
	{Name: "c2pa-python", Stage: "c2pa-manifest", Notes: "Content provenance manifest signing"},
}

// BuildProjectStatus correlates ProjectCatalogue against the stage and
// analysis records produced for one job, matching
// protection_pipeline.py's _build_project_status.
func BuildProjectStatus(layers []LayerRecord, analysisProcessors []string) []ProjectStatus {
	stageIndex := make(map[string]LayerRecord, len(layers))
	for _, l := range layers {
		stageIndex[l.Stage] = l
	}
	analysisSet := make(map[string]bool, len(analysisProcessors))
	for _, p := range analysisProcessors {
		analysisSet[p] = true
	}
	anyPoisonMask := false
	for _, l := range layers {
		if l.PoisonMaskHiPath != "" {
			anyPoisonMask = true
			break
		}
	}

	out := make([]ProjectStatus, 0, len(ProjectCatalogue))
	for _, p := range ProjectCatalogue {
		status := ProjectStatus{Project: p}
		switch {
		case p.Stage == "runtime":
			status.Applied = true
		case p.Name == "Poison Mask Processor":
			status.Applied = anyPoisonMask
		case p.Stage == "":
			status.Applied = analysisSet[projectAnalysisKey(p.Name)]
		default:
			if layer, ok := stageIndex[p.Stage]; ok {
				status.Applied = layer.Error == ""
			}
		}
		out = append(out, status)
	}
	return out
}

// projectAnalysisKey maps a catalogue display name to the processor name
// recorded in the analysis results, for the analysis-only entries.
func projectAnalysisKey(name string) string {
	switch name {
	case "Stegano (analysis)":
		return "stegano"
	case "pytineye":
		return "tineye"
	default:
		return name
	}
}

// ProjectStatus pairs a catalogue entry with whether it was applied to
// this job's output.
type ProjectStatus struct {
	Project
	Applied bool `json:"applied"`
}
