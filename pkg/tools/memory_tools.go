package tools

import "context"

// MemoryWriter is the memory-manager surface exposed as tools. Implemented
// by *memory.Manager.
type MemoryWriter interface {
	WriteMemoryEntry(store, section, content string) (string, error)
	WriteGoalEntry(title, progress, status string, tags []string) (string, error)
	RememberThis(text string) (string, error)
}

// MemorySpecs returns the tool-callable memory operations.
func MemorySpecs(mem MemoryWriter) []Spec {
	return []Spec{
		{
			Name:        "write_memory_entry",
			Description: "Write a durable note into the semantic or procedural memory store.",
			Schema: objSchema(map[string]string{
				"store":   "string",
				"content": "string",
				"section": "string",
			}, []string{"store", "content"}),
			Label: func(args map[string]any) string {
				return "Writing to " + StringArg(args, "store") + " memory"
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				return mem.WriteMemoryEntry(
					StringArg(args, "store"),
					StringArg(args, "section"),
					StringArg(args, "content"),
				)
			},
		},
		{
			Name:        "write_goal_entry",
			Description: "Create or update a persistent goal, optionally with a progress note, status and tags.",
			Schema: objSchema(map[string]string{
				"title":    "string",
				"progress": "string",
				"status":   "string",
				"tags":     "array",
			}, []string{"title"}),
			Label: func(args map[string]any) string {
				return "Updating goal: " + StringArg(args, "title")
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				var tags []string
				if raw, ok := args["tags"].([]any); ok {
					for _, v := range raw {
						if s, ok := v.(string); ok {
							tags = append(tags, s)
						}
					}
				}
				return mem.WriteGoalEntry(
					StringArg(args, "title"),
					StringArg(args, "progress"),
					StringArg(args, "status"),
					tags,
				)
			},
		},
		{
			Name:        "remember_this",
			Description: "Remember a fact permanently: stores it in semantic memory, upserts a goal when relevant, and logs it to the episodic journal.",
			Schema:      objSchema(map[string]string{"text": "string"}, []string{"text"}),
			Label:       func(map[string]any) string { return "Committing this to memory" },
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				return mem.RememberThis(StringArg(args, "text"))
			},
		},
	}
}
