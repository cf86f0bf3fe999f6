package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// WalletProvider is the blockchain RPC surface the wallet tools consume.
type WalletProvider interface {
	Address(ctx context.Context) (string, error)
	Balance(ctx context.Context) (string, error)
}

// SearchClient is the realtime search API surface.
type SearchClient interface {
	Search(ctx context.Context, query string, maxResults int) (string, error)
}

// SocialClient is the social-network API surface.
type SocialClient interface {
	Post(ctx context.Context, text string) (string, error)
	Timeline(ctx context.Context, limit int) (string, error)
}

// Browser is the headless browser surface.
type Browser interface {
	Browse(ctx context.Context, url string) (string, error)
}

// DatetimeSpec returns the current date/time in local timezone and UTC.
func DatetimeSpec(now func() time.Time) Spec {
	return Spec{
		Name:        "get_datetime",
		Description: "Get the current date and time (local timezone and UTC).",
		Schema:      objSchema(nil, nil),
		Label:       func(map[string]any) string { return "Checking the clock" },
		Handler: func(context.Context, map[string]any) (string, error) {
			t := now()
			return fmt.Sprintf("Local: %s\nUTC: %s",
				t.Format("Monday, 2 January 2006 15:04:05 MST"),
				t.UTC().Format(time.RFC3339)), nil
		},
	}
}

// WalletSpecs returns the wallet_address and wallet_balance tools.
func WalletSpecs(wallet WalletProvider) []Spec {
	return []Spec{
		{
			Name:        "wallet_address",
			Description: "Get the agent's wallet address.",
			Schema:      objSchema(nil, nil),
			Label:       func(map[string]any) string { return "Looking up wallet address" },
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				return wallet.Address(ctx)
			},
		},
		{
			Name:        "wallet_balance",
			Description: "Get the agent's current wallet balance.",
			Schema:      objSchema(nil, nil),
			Label:       func(map[string]any) string { return "Checking wallet balance" },
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				return wallet.Balance(ctx)
			},
		},
	}
}

// SearchSpec returns the perplexity_search tool.
func SearchSpec(search SearchClient) Spec {
	return Spec{
		Name:        "perplexity_search",
		Description: "Search the web for current, real-time information.",
		Schema: objSchema(map[string]string{
			"query":       "string",
			"max_results": "number",
		}, []string{"query"}),
		Label: func(args map[string]any) string {
			return "Searching the web for: " + StringArg(args, "query")
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			max := int(NumberArg(args, "max_results", 5))
			return search.Search(ctx, StringArg(args, "query"), max)
		},
	}
}

// SocialSpecs returns the social posting and timeline tools.
func SocialSpecs(social SocialClient) []Spec {
	return []Spec{
		{
			Name:        "social_post",
			Description: "Publish a post on the social network.",
			Schema:      objSchema(map[string]string{"text": "string"}, []string{"text"}),
			Label:       func(map[string]any) string { return "Posting to the social network" },
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return social.Post(ctx, StringArg(args, "text"))
			},
		},
		{
			Name:        "social_timeline",
			Description: "Read recent posts from the social network timeline.",
			Schema:      objSchema(map[string]string{"limit": "number"}, nil),
			Label:       func(map[string]any) string { return "Reading the social timeline" },
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return social.Timeline(ctx, int(NumberArg(args, "limit", 10)))
			},
		},
	}
}

// BrowseSpec returns the headless-browser tool.
func BrowseSpec(browser Browser) Spec {
	return Spec{
		Name:        "browse_url",
		Description: "Open a URL in the headless browser and return the page text.",
		Schema:      objSchema(map[string]string{"url": "string"}, []string{"url"}),
		Label: func(args map[string]any) string {
			return "Browsing " + StringArg(args, "url")
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return browser.Browse(ctx, StringArg(args, "url"))
		},
	}
}

// objSchema builds a flat object schema: property name → JSON type.
func objSchema(props map[string]string, required []string) []byte {
	schema := map[string]any{"type": "object"}
	if len(props) > 0 {
		properties := make(map[string]any, len(props))
		for name, typ := range props {
			properties[name] = map[string]string{"type": typ}
		}
		schema["properties"] = properties
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	out, err := json.Marshal(schema)
	if err != nil {
		panic(err) // static input, cannot fail
	}
	return out
}
