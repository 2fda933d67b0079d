// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/morganforge/parley/internal/model"
)

// ExportMarkdown renders a conversation as a Markdown transcript.
func ExportMarkdown(conv *model.Conversation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", conv.Title)
	fmt.Fprintf(&b, "*Created: %s*\n\n", conv.CreatedAt.Format("2006-01-02 15:04"))

	for _, msg := range conv.Messages {
		fmt.Fprintf(&b, "## %s\n\n", msg.Role.DisplayName())
		b.WriteString(msg.DisplayContent())
		b.WriteString("\n\n")
	}
	return b.String()
}

// ExportJSON renders a conversation as indented JSON in its stored form.
func ExportJSON(conv *model.Conversation) ([]byte, error) {
	return json.MarshalIndent(toStored(conv), "", "  ")
}
