package api

// decodeCheckbox maps an HTML checkbox form value to a boolean. Browsers send
// the literal "on" for a checked box and omit the field entirely for an
// unchecked one, so only "on" means true.
func decodeCheckbox(raw string) bool {
	return raw == "on"
}
