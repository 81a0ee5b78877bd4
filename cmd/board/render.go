package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dahch/task-board-sync/domain"
	"github.com/dahch/task-board-sync/presence"
)

func renderBoard(w io.Writer, tasks []domain.Task, tr *presence.Tracker, current *domain.User) {
	groups := make(map[domain.Column][]domain.Task)
	var extra []domain.Column
	for _, t := range tasks {
		if _, seen := groups[t.Column]; !seen && !t.Column.Valid() {
			extra = append(extra, t.Column)
		}
		groups[t.Column] = append(groups[t.Column], t)
	}

	for _, col := range append(append([]domain.Column{}, domain.Columns...), extra...) {
		fmt.Fprintf(w, "%s (%d)\n", col, len(groups[col]))
		for _, t := range groups[col] {
			fmt.Fprintf(w, "  - [%s] %s", shortID(t.ID), t.Title)
			if au, ok := tr.ActiveUser(t.ID); ok {
				isCurrent := current != nil && current.ID == au.ID
				fmt.Fprintf(w, "  (%s by %s)", au.Action, presence.Label(domain.User{ID: au.ID}, isCurrent))
			}
			fmt.Fprintln(w)
		}
	}
}

func renderRoster(w io.Writer, roster []presence.PeerStatus) {
	fmt.Fprintf(w, "Connected users (%d)\n", len(roster))
	for _, st := range roster {
		marker := "○"
		if st.Activity != nil {
			marker = "●"
		}
		fmt.Fprintf(w, "  %s %s", marker, st.Label)
		if st.Activity != nil {
			fmt.Fprintf(w, "  %s %q", activityVerb(st.Activity.Action), st.Activity.TaskTitle)
		}
		fmt.Fprintln(w)
	}
}

func activityVerb(a domain.InteractionAction) string {
	switch a {
	case domain.ActionMoving:
		return "Moving"
	case domain.ActionEditing:
		return "Editing"
	default:
		return string(a)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// parseColumn accepts a column name in any case, with or without spaces
// and dashes.
func parseColumn(s string) (domain.Column, error) {
	norm := func(v string) string {
		v = strings.ToLower(v)
		return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(v)
	}
	want := norm(s)
	for _, c := range domain.Columns {
		if norm(string(c)) == want {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown column %q (want one of %q, %q, %q)", s, domain.Columns[0], domain.Columns[1], domain.Columns[2])
}

// findTask resolves a full id or a unique prefix.
func findTask(tasks []domain.Task, ref string) (domain.Task, error) {
	if t, ok := domain.FindTask(tasks, ref); ok {
		return t, nil
	}
	var match *domain.Task
	for i := range tasks {
		if strings.HasPrefix(tasks[i].ID, ref) {
			if match != nil {
				return domain.Task{}, fmt.Errorf("task id %q is ambiguous", ref)
			}
			match = &tasks[i]
		}
	}
	if match == nil || ref == "" {
		return domain.Task{}, fmt.Errorf("task not found: %s", ref)
	}
	return *match, nil
}
