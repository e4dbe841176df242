package domain

// FeedbackColumns is the fixed column order of the feedback table.
var FeedbackColumns = []string{"image_path", "generated_description", "user_feedback"}

// FeedbackRecord is one user correction of a generated caption.
type FeedbackRecord struct {
	ImagePath            string `json:"image_path"`
	GeneratedDescription string `json:"generated_description"`
	UserFeedback         string `json:"user_feedback"`
}

// Row returns the record's fields in FeedbackColumns order.
func (r FeedbackRecord) Row() []string {
	return []string{r.ImagePath, r.GeneratedDescription, r.UserFeedback}
}
