package task

import "strings"

var columnLabels = []string{"todo", "in progress", "inprogress", "done"}

// NormalizeTitle trims raw and rejects empty titles and column names.
func NormalizeTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", ErrTitleRequired
	}
	lower := strings.ToLower(title)
	for _, label := range columnLabels {
		if lower == label {
			return "", ErrReservedTitle
		}
	}
	return title, nil
}

// Validate checks enumerated values and the title of a patch.
func (f Fields) Validate() error {
	if f.Title != nil {
		if _, err := NormalizeTitle(*f.Title); err != nil {
			return err
		}
	}
	if f.Priority != nil && !f.Priority.Valid() {
		return ErrInvalidPriority
	}
	if f.Status != nil && !f.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// ValidateCreateInput validates and normalizes a creation request in place.
func ValidateCreateInput(req *CreateRequest) error {
	title, err := NormalizeTitle(req.Title)
	if err != nil {
		return err
	}
	req.Title = title
	req.Description = strings.TrimSpace(req.Description)
	if req.Priority == "" {
		req.Priority = PriorityMedium
	}
	if !req.Priority.Valid() {
		return ErrInvalidPriority
	}
	if req.Status == "" {
		req.Status = StatusTodo
	}
	if !req.Status.Valid() {
		return ErrInvalidStatus
	}
	if req.AssignedTo != nil && *req.AssignedTo == "" {
		req.AssignedTo = nil
	}
	return nil
}
