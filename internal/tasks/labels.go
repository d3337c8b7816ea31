package tasks

import "fmt"

// ValidateLabels checks that the stream is non-empty, that every task has a
// unique name and at least one class, and that no class belongs to two tasks.
// Class-incremental evaluation relies on each label having exactly one owner.
func ValidateLabels(tasks []Task) error {
	if len(tasks) == 0 {
		return fmt.Errorf("task stream is empty")
	}

	names := make(map[string]int, len(tasks))
	owner := make(map[string]int)
	for i, t := range tasks {
		if t.Name == "" {
			return fmt.Errorf("task %d has no name", i)
		}
		if prev, ok := names[t.Name]; ok {
			return fmt.Errorf("duplicate task name %q (tasks %d and %d)", t.Name, prev, i)
		}
		names[t.Name] = i

		if len(t.Classes) == 0 {
			return fmt.Errorf("task %d (%s) has no classes", i, t.Name)
		}
		for _, c := range t.Classes {
			if prev, ok := owner[c]; ok {
				if prev == i {
					return fmt.Errorf("task %d (%s) lists class %q twice", i, t.Name, c)
				}
				return fmt.Errorf("class %q belongs to tasks %d and %d", c, prev, i)
			}
			owner[c] = i
		}
	}
	return nil
}
