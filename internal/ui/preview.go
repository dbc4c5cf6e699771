package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/noborus/ov/oviewer"

	"cantara/internal/domain"
	"cantara/internal/manager"
)

// PreviewOps shows a source file's content in the ov pager. The presentation
// engine consumes entries the same way: resolve the key, then load bytes from
// the owning repository's local root.
type PreviewOps struct {
	program *tea.Program
}

// NewPreviewOps creates a preview operations instance.
func NewPreviewOps(program *tea.Program) *PreviewOps {
	return &PreviewOps{program: program}
}

// ShowSourceFile pages the entry's content: song text for songs, a metadata
// sheet for binary kinds.
func (p *PreviewOps) ShowSourceFile(mgr *manager.Manager, entry domain.SourceFile) error {
	if p.program == nil {
		return fmt.Errorf("program not set")
	}

	resolved, root, ok := mgr.Resolve(entry.Key)
	if !ok {
		return fmt.Errorf("source file %q no longer in index", entry.Title)
	}

	content, err := renderContent(resolved, root)
	if err != nil {
		return err
	}

	// Release terminal control to run ov
	if err := p.program.ReleaseTerminal(); err != nil {
		return err
	}
	defer func() {
		// Small delay to ensure ov has fully exited before restoring terminal
		time.Sleep(100 * time.Millisecond)
		_ = p.program.RestoreTerminal()
	}()

	root2, err := oviewer.NewRoot(strings.NewReader(content))
	if err != nil {
		return err
	}

	config := oviewer.NewConfig()
	config.IsWriteOnExit = false
	config.IsWriteOriginal = false
	root2.SetConfig(config)

	return root2.Run()
}

func renderContent(entry domain.SourceFile, root string) (string, error) {
	header := fmt.Sprintf("%s\n%s  %s\nrepository: %s\nroot: %s\n\n",
		entry.Title, entry.Kind, entry.RelPath, entry.Repo, root)

	if entry.Kind != domain.KindSong {
		info, err := os.Stat(entry.Path)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", entry.Path, err)
		}
		return header + fmt.Sprintf("%d bytes, modified %s\n", info.Size(), info.ModTime().Format(time.RFC3339)), nil
	}

	data, err := os.ReadFile(entry.Path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", entry.Path, err)
	}
	return header + string(data), nil
}
