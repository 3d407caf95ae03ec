package refine

// SystemPrompt instructs the model to correct OCR-extracted sign records.
const SystemPrompt = `You are a MUTCD sign expert. Analyze and correct this OCR-extracted JSON for accuracy: ` +
	`Fix codes (e.g., "Ma-8" to "M4-8"), remove artifacts (e.g., "|", commas), ` +
	`add full descriptions from MUTCD standards, infer quantities if possible. ` +
	`Match each MUTCD code to its description. ` +
	`Keep the "id" of every record unchanged. ` +
	`Return ONLY the corrected JSON array with no extra text.`

// userPrompt wraps the serialized records in the user message.
func userPrompt(recordsJSON []byte) string {
	return "Correct these MUTCD sign records. Each element has id, code, size, description and quantity.\n" +
		string(recordsJSON)
}
