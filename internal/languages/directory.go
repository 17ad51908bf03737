/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package languages knows which debugger serves each supported language,
// how to launch it, and how to tell the language of a source file.
package languages

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/microsoft/breakeval/internal/dap"
)

var ErrUnsupportedLanguage = errors.New("unsupported language")

// Handle gives access to the debugger configuration of one language.
type Handle struct {
	config AdapterConfig
}

func (h Handle) Language() string {
	return h.config.Language
}

// InProcess reports whether the language is debugged by the embedded interpreter.
func (h Handle) InProcess() bool {
	return h.config.InProcess
}

// Config returns a copy of the configuration.
func (h Handle) Config() AdapterConfig {
	return h.config.clone()
}

func (h Handle) IsToolAvailable() bool {
	return h.config.IsToolAvailable()
}

func (h Handle) Descriptor() dap.AdapterDescriptor {
	return h.config.Descriptor()
}

// Directory maps language names to debugger configurations.
type Directory struct {
	lock     sync.RWMutex
	configs  map[string]AdapterConfig
	detector *Detector
}

// NewDirectory returns a directory populated with the built-in languages.
func NewDirectory() *Directory {
	d := &Directory{
		configs:  map[string]AdapterConfig{},
		detector: NewDetector(),
	}
	for _, cfg := range builtinConfigs() {
		d.configs[cfg.Language] = cfg
	}
	return d
}

// Register adds a language or replaces the configuration of an existing one.
// The file extensions of the configuration are used for detection from then on.
func (d *Directory) Register(cfg AdapterConfig) error {
	cfg.Language = strings.ToLower(strings.TrimSpace(cfg.Language))
	if validationErr := cfg.Validate(); validationErr != nil {
		return validationErr
	}
	cfg = cfg.clone()

	d.lock.Lock()
	d.configs[cfg.Language] = cfg
	d.lock.Unlock()

	for _, ext := range cfg.FileExtensions {
		d.detector.AddExtension(ext, cfg.Language)
	}
	return nil
}

func (d *Directory) Resolve(language string) (Handle, error) {
	language = strings.ToLower(strings.TrimSpace(language))

	d.lock.RLock()
	defer d.lock.RUnlock()

	cfg, found := d.configs[language]
	if !found {
		return Handle{}, fmt.Errorf("%w: %s (supported languages: %s)", ErrUnsupportedLanguage, language, strings.Join(d.languagesLocked(), ", "))
	}
	return Handle{config: cfg.clone()}, nil
}

// IsToolAvailable reports whether the debugger for the language is installed.
func (d *Directory) IsToolAvailable(language string) bool {
	h, resolveErr := d.Resolve(language)
	if resolveErr != nil {
		return false
	}
	return h.IsToolAvailable()
}

// Detect returns the language of the file.
func (d *Directory) Detect(file string) (string, error) {
	return d.detector.Detect(file)
}

// Languages returns the names of all configured languages, sorted.
func (d *Directory) Languages() []string {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.languagesLocked()
}

func (d *Directory) languagesLocked() []string {
	names := make([]string, 0, len(d.configs))
	for name := range d.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Available returns the languages whose debugger is installed, sorted.
func (d *Directory) Available() []string {
	var available []string
	for _, name := range d.Languages() {
		if d.IsToolAvailable(name) {
			available = append(available, name)
		}
	}
	return available
}

type overridesFile struct {
	Adapters []AdapterConfig `yaml:"adapters"`
}

// LoadOverrides registers the adapter configurations listed in a YAML file:
//
//	adapters:
//	  - language: python
//	    command: [python3, -m, debugpy.adapter, --port, "{{port}}"]
//	    transport: tcp
//	    launchType: python
//	    fileExtensions: [.py]
func (d *Directory) LoadOverrides(path string) error {
	content, readErr := os.ReadFile(path)
	if readErr != nil {
		return fmt.Errorf("could not read adapter overrides: %w", readErr)
	}

	var overrides overridesFile
	if unmarshalErr := yaml.Unmarshal(content, &overrides); unmarshalErr != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, unmarshalErr)
	}

	var errs []error
	for _, cfg := range overrides.Adapters {
		if registerErr := d.Register(cfg); registerErr != nil {
			errs = append(errs, registerErr)
		}
	}
	return errors.Join(errs...)
}
