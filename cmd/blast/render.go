package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/foxzi/blast/internal/document"
	"github.com/foxzi/blast/internal/transport"
)

var (
	renderFormat   string
	renderSanitize bool
	renderImages   string
	renderOutDir   string
)

var renderCmd = &cobra.Command{
	Use:   "render <doc.json>",
	Short: "Render an Editor.js document",
	Long: `Render an Editor.js document the way a campaign would.

Formats:
  html         HTML body
  text         plain-text body
  attachments  images extracted as attachments (written to --out when set)`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVarP(&renderFormat, "format", "f", "html", "Output format: html, text or attachments")
	renderCmd.Flags().BoolVar(&renderSanitize, "sanitize", false, "Sanitize inline markup")
	renderCmd.Flags().StringVar(&renderImages, "images", "data", "Image references in HTML: data or cid")
	renderCmd.Flags().StringVar(&renderOutDir, "out", "", "Directory to write attachments to")

	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	doc, err := document.Parse(string(data))
	if err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}

	mode := document.ImageMode(renderImages)
	if mode != document.ImagesData && mode != document.ImagesCID {
		return fmt.Errorf("invalid --images %q (must be data or cid)", renderImages)
	}
	r := document.NewRenderer(document.Options{Sanitize: renderSanitize, InlineImages: mode})

	return renderDocument(cmd.OutOrStdout(), r, doc, renderFormat, renderOutDir)
}

func renderDocument(w io.Writer, r *document.Renderer, doc *document.Document, format, outDir string) error {
	switch format {
	case "html":
		fmt.Fprintln(w, r.HTML(doc))
	case "text":
		fmt.Fprintln(w, r.Text(doc))
	case "attachments":
		attachments := document.Attachments(doc)
		if len(attachments) == 0 {
			fmt.Fprintln(w, "No attachments")
			return nil
		}
		for _, a := range attachments {
			content, err := transport.DecodeAttachment(a)
			if err != nil {
				return fmt.Errorf("attachment %s: %w", a.Filename, err)
			}
			if outDir != "" {
				path := filepath.Join(outDir, a.Filename)
				if err := os.WriteFile(path, content, 0644); err != nil {
					return fmt.Errorf("failed to write attachment: %w", err)
				}
				fmt.Fprintf(w, "%-24s cid:%-16s %8d bytes -> %s\n", a.Filename, a.ContentID, len(content), path)
				continue
			}
			fmt.Fprintf(w, "%-24s cid:%-16s %8d bytes\n", a.Filename, a.ContentID, len(content))
		}
	default:
		return fmt.Errorf("invalid --format %q (must be html, text or attachments)", format)
	}
	return nil
}
