package repository

import "github.com/splax/todolist/internal/domain"

// PatchColumns turns a patch into nullable column arguments for a
// COALESCE-style update: a nil result leaves the stored value unchanged.
// Blank text counts as absent.
func PatchColumns(patch domain.TodoPatch) (text *string, completed *bool) {
	if patch.Text.Set && patch.Text.Value != "" {
		value := patch.Text.Value
		text = &value
	}
	if patch.Completed.Set {
		value := patch.Completed.Value
		completed = &value
	}
	return text, completed
}
