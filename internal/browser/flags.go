package browser

import "strings"

// Flag is a Chromium command-line switch without its leading dashes. An empty
// Value means a bare switch.
type Flag struct {
	Name  string
	Value string
}

// lowMemoryFlags keeps a long-running Chromium small enough for a small VM.
var lowMemoryFlags = []Flag{
	{Name: "no-sandbox"},
	{Name: "disable-dev-shm-usage"},
	{Name: "disable-gpu"},
	{Name: "disable-extensions"},
	{Name: "disable-background-networking"},
	{Name: "disable-default-apps"},
	{Name: "disable-sync"},
	{Name: "metrics-recording-only"},
	{Name: "no-first-run"},
	{Name: "disable-software-rasterizer"},
	{Name: "disable-accelerated-2d-canvas"},
	{Name: "disable-features", Value: "TranslateUI,AudioServiceOutOfProcess,IsolateOrigins"},
	{Name: "js-flags", Value: "--max-old-space-size=128"},
	{Name: "disable-site-isolation-trials"},
	{Name: "renderer-process-limit", Value: "2"},
	{Name: "disable-background-timer-throttling"},
	{Name: "disable-backgrounding-occluded-windows"},
	{Name: "disable-blink-features", Value: "AutomationControlled"},
}

// BlockedURLPatterns are request URL globs aborted when resource blocking is
// on, in addition to every image, font and media request.
var BlockedURLPatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.svg", "*.webp", "*.ico",
	"*.woff", "*.woff2", "*.mp4", "*.webm",
}

// LaunchFlags returns the default switches followed by extra, where each extra
// entry is written as "--name" or "--name=value". An extra switch replaces a
// default of the same name.
func LaunchFlags(extra []string) []Flag {
	overrides := make(map[string]Flag, len(extra))
	order := make([]string, 0, len(extra))
	for _, raw := range extra {
		f, ok := ParseFlag(raw)
		if !ok {
			continue
		}
		if _, seen := overrides[f.Name]; !seen {
			order = append(order, f.Name)
		}
		overrides[f.Name] = f
	}

	out := make([]Flag, 0, len(lowMemoryFlags)+len(order))
	for _, f := range lowMemoryFlags {
		if o, ok := overrides[f.Name]; ok {
			out = append(out, o)
			delete(overrides, f.Name)
			continue
		}
		out = append(out, f)
	}
	for _, name := range order {
		if f, ok := overrides[name]; ok {
			out = append(out, f)
		}
	}
	return out
}

// ParseFlag parses "--name=value" into a Flag.
func ParseFlag(raw string) (Flag, bool) {
	raw = strings.TrimLeft(strings.TrimSpace(raw), "-")
	if raw == "" {
		return Flag{}, false
	}
	name, value, _ := strings.Cut(raw, "=")
	return Flag{Name: name, Value: value}, true
}
