package constants

// Modality is the training domain of a project.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

// ResponseType selects which payload of a Response is delivered.
type ResponseType string

const (
	ResponseTypeStatic ResponseType = "static"
	ResponseTypeRandom ResponseType = "random"
	ResponseTypeJSON   ResponseType = "json"
)

// ParseModality converts a raw string to a Modality.
// The second return value is false for anything other than "text" or "image".
func ParseModality(s string) (Modality, bool) {
	switch Modality(s) {
	case ModalityText:
		return ModalityText, true
	case ModalityImage:
		return ModalityImage, true
	default:
		return "", false
	}
}
