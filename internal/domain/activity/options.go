package activity

// ListOptions provides filtering options for listing activity.
type ListOptions struct {
	TaskID *string
	Action *Action
	Limit  int
	Offset int
}
