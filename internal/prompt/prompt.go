// Package prompt maps filter names to image-edit instructions.
package prompt

import "sort"

// DefaultPrompt is used for unknown or empty filter names.
const DefaultPrompt = "Edit this image in a creative, artistic style while maintaining the main subject's recognizable features."

var filterPrompts = map[string]string{
	"Ghibli":    "Transform this image into a whimsical Studio Ghibli-style anime artwork with soft colors, gentle details, and the characteristic Ghibli charm.",
	"Pixar":     "Edit this image to look like a 3D Pixar-style animated character with expressive features, vibrant colors, and the signature Pixar lighting and texture.",
	"Sketch":    "Convert this image into a detailed pencil sketch with artistic shading and fine line work, as if it was hand-drawn by a skilled artist.",
	"Cyberpunk": "Transform this image into a cyberpunk-themed version with neon lights, futuristic tech elements, urban dystopian vibes, and a moody, high-contrast color palette.",
}

// Resolver looks up prompts from the built-in filter table.
type Resolver struct{}

// New returns a Resolver.
func New() Resolver {
	return Resolver{}
}

// Resolve returns the instruction for filter, falling back to DefaultPrompt.
// Matching is exact and case-sensitive.
func (Resolver) Resolve(filter string) string {
	if p, ok := filterPrompts[filter]; ok {
		return p
	}

	return DefaultPrompt
}

// Filters lists the known filter names in alphabetical order.
func (Resolver) Filters() []string {
	names := make([]string, 0, len(filterPrompts))
	for name := range filterPrompts {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
