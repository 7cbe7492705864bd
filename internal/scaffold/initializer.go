// Package scaffold creates a starter warren project.
package scaffold

import (
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dyluth/warren/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// ConfigFile is the name of the generated configuration
const ConfigFile = "warren.yml"

// AgentsDir holds generated command agents
const AgentsDir = "agents"

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize creates the warren project structure in dir.
// If force is true, it will remove existing warren.yml and agents/ directory
func Initialize(dir string, force bool, w io.Writer) error {
	if force {
		if err := handleForce(dir, w); err != nil {
			return err
		}
	}

	files, err := getTemplateFiles()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(dir, AgentsDir, "example-agent"), 0755); err != nil {
		return fmt.Errorf("failed to create agent directory: %w", err)
	}

	for _, file := range files {
		path := filepath.Join(dir, file.Path)
		if err := os.WriteFile(path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}

	// The generated config must load cleanly
	if _, err := config.Load(filepath.Join(dir, ConfigFile)); err != nil {
		return fmt.Errorf("generated %s is invalid: %w", ConfigFile, err)
	}

	return nil
}

// handleForce removes existing files if --force was specified
func handleForce(dir string, w io.Writer) error {
	configPath := filepath.Join(dir, ConfigFile)
	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(w, "⚠️  Removing existing %s...\n", ConfigFile)
		if err := os.Remove(configPath); err != nil {
			return fmt.Errorf("failed to remove %s: %w", ConfigFile, err)
		}
	}

	agentsPath := filepath.Join(dir, AgentsDir)
	if info, err := os.Stat(agentsPath); err == nil && info.IsDir() {
		fmt.Fprintf(w, "⚠️  Removing existing %s/ directory...\n", AgentsDir)
		if err := os.RemoveAll(agentsPath); err != nil {
			return fmt.Errorf("failed to remove %s/ directory: %w", AgentsDir, err)
		}
	}

	return nil
}

// getTemplateFiles reads all template files
func getTemplateFiles() ([]FileInfo, error) {
	templates := []struct {
		name string
		path string
		perm os.FileMode
	}{
		{"warren.yml.tmpl", ConfigFile, 0644},
		{"run.sh.tmpl", filepath.Join(AgentsDir, "example-agent", "run.sh"), 0755},
		{"README.md.tmpl", filepath.Join(AgentsDir, "example-agent", "README.md"), 0644},
	}

	files := make([]FileInfo, 0, len(templates))
	for _, tmpl := range templates {
		content, err := templatesFS.ReadFile("templates/" + tmpl.name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s template: %w", tmpl.name, err)
		}
		files = append(files, FileInfo{Path: tmpl.path, Content: content, Permissions: tmpl.perm})
	}
	return files, nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess(w io.Writer) {
	fmt.Fprintln(w, "\n✅ Successfully initialized warren project!")
	fmt.Fprintln(w, "\nCreated:")
	fmt.Fprintf(w, "  ✓ %s\n", ConfigFile)
	fmt.Fprintln(w, "  ✓ agents/example-agent/run.sh")
	fmt.Fprintln(w, "  ✓ agents/example-agent/README.md")
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintln(w, "  1. Customize warren.yml to add your own agents")
	fmt.Fprintln(w, "  2. Run 'warren validate' to check it")
	fmt.Fprintln(w, "  3. Run 'warren run' to start the supervisor")
}
