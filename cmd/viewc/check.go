package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/neurodesk/viewc/pkg/compiler"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const checkFile = "viewc.tests.yaml"

// checkSpec is one rendering expectation. Exactly one of Expect, Contains
// and Error should be set; a spec with none only requires a clean render.
type checkSpec struct {
	Name     string         `yaml:"name"`
	Template string         `yaml:"template"`
	Vars     map[string]any `yaml:"vars"`
	Expect   *string        `yaml:"expect"`
	Contains []string       `yaml:"contains"`
	Error    string         `yaml:"error"`
}

func (s checkSpec) Identifier() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Template
}

func loadCheckSpecs(file string) ([]checkSpec, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}
	var specs []checkSpec
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&specs); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding test definitions: %w", err)
	}
	for i := range specs {
		if specs[i].Template == "" {
			return nil, fmt.Errorf("test %d: template name is required", i)
		}
		if specs[i].Vars == nil {
			specs[i].Vars = map[string]any{}
		}
	}
	return specs, nil
}

// filterCheckSpecs keeps specs whose name or template matches one of the
// glob selectors. No selectors keeps everything.
func filterCheckSpecs(specs []checkSpec, selectors []string) ([]checkSpec, error) {
	if len(selectors) == 0 {
		return specs, nil
	}
	var out []checkSpec
	for _, s := range specs {
		for _, sel := range selectors {
			byName, err := path.Match(sel, s.Identifier())
			if err != nil {
				return nil, fmt.Errorf("bad selector %q: %w", sel, err)
			}
			byTemplate, _ := path.Match(sel, s.Template)
			if byName || byTemplate {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

// run renders the spec and returns a description of any mismatch.
func (s checkSpec) run(c *compiler.Compiler) error {
	out, err := c.Render(s.Template, s.Vars)
	if s.Error != "" {
		if err == nil {
			return fmt.Errorf("expected error containing %q, rendered %q", s.Error, out)
		}
		if !strings.Contains(err.Error(), s.Error) {
			return fmt.Errorf("expected error containing %q, got %v", s.Error, err)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if s.Expect != nil && out != *s.Expect {
		return fmt.Errorf("output mismatch:\n--- want\n%s\n--- got\n%s", *s.Expect, out)
	}
	for _, want := range s.Contains {
		if !strings.Contains(out, want) {
			return fmt.Errorf("output does not contain %q:\n%s", want, out)
		}
	}
	return nil
}

var checkCmd = cobra.Command{
	Use:   "check [selector ...]",
	Short: "Render templates against the expectations in viewc.tests.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			file = filepath.Join(e.cfg.Templates.Dir, checkFile)
		}
		specs, err := loadCheckSpecs(file)
		if err != nil {
			return err
		}
		selected, err := filterCheckSpecs(specs, args)
		if err != nil {
			return err
		}
		if len(selected) == 0 {
			return fmt.Errorf("no template tests matched")
		}

		// Checks must exercise the pipeline, not replay earlier results.
		e.cfg.Cache.Backend = "none"
		comp, err := e.compiler()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		failed := 0
		for _, s := range selected {
			if err := s.run(comp); err != nil {
				failed++
				fmt.Fprintf(w, "FAIL %s: %v\n", s.Identifier(), err)
				continue
			}
			fmt.Fprintf(w, "ok   %s\n", s.Identifier())
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d template tests failed", failed, len(selected))
		}
		return nil
	},
}

var lintCmd = cobra.Command{
	Use:   "lint",
	Short: "Transpile every template in the template directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		names, err := e.dir.List()
		if err != nil {
			return fmt.Errorf("listing templates: %w", err)
		}
		e.cfg.Cache.Backend = "none"
		comp, err := e.compiler()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		failed := 0
		for _, name := range names {
			v, err := comp.View(name, nil)
			if err == nil {
				_, err = comp.Transpile(v)
			}
			if err != nil {
				failed++
				fmt.Fprintf(w, "FAIL %s: %v\n", name, err)
				continue
			}
			fmt.Fprintf(w, "ok   %s\n", name)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d templates failed to compile", failed, len(names))
		}
		return nil
	},
}
