// Package catalog lists the models pana knows how to download.
// A built-in list ships with the binary; a catalog.toml in the data
// directory can add entries or override built-in ones by name.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/tutu-network/pana/internal/domain"
)

// Entry is one downloadable model.
type Entry struct {
	Name        string   `toml:"name"`
	Aliases     []string `toml:"aliases"`
	URL         string   `toml:"url"` // optional, overrides HFRepo/HFFile
	HFRepo      string   `toml:"hf_repo"`
	HFFile      string   `toml:"hf_file"`
	SizeBytes   int64    `toml:"size_bytes"`
	SHA256      string   `toml:"sha256"`
	Format      string   `toml:"format"`
	ContextSize int      `toml:"context_size"`
}

// DownloadURL returns where the artifact is fetched from.
func (e Entry) DownloadURL() string {
	if e.URL != "" {
		return e.URL
	}
	return fmt.Sprintf("https://huggingface.co/%s/resolve/main/%s", e.HFRepo, e.HFFile)
}

// FileName is the on-disk name of the artifact.
func (e Entry) FileName() string {
	if e.HFFile != "" {
		return e.HFFile
	}
	if i := strings.LastIndex(e.URL, "/"); i >= 0 && i < len(e.URL)-1 {
		return e.URL[i+1:]
	}
	return e.Name + ".gguf"
}

// Descriptor converts the entry for the registry.
func (e Entry) Descriptor() domain.ModelDescriptor {
	format := e.Format
	if format == "" {
		format = "gguf"
	}
	return domain.ModelDescriptor{
		Name:        e.Name,
		URL:         e.DownloadURL(),
		FileName:    e.FileName(),
		SizeBytes:   e.SizeBytes,
		SHA256:      strings.ToLower(e.SHA256),
		Format:      format,
		ContextSize: e.ContextSize,
	}
}

func (e Entry) validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: entry without name", domain.ErrInvalidCatalog)
	}
	if e.URL == "" && (e.HFRepo == "" || e.HFFile == "") {
		return fmt.Errorf("%w: %s needs url or hf_repo+hf_file", domain.ErrInvalidCatalog, e.Name)
	}
	if strings.ContainsAny(e.FileName(), `/\`) || e.FileName() == ".." {
		return fmt.Errorf("%w: %s has an unsafe file name", domain.ErrInvalidCatalog, e.Name)
	}
	return nil
}

// Catalog is the built-in model list.
var Catalog = []Entry{
	{
		Name:        "tinyllama",
		HFRepo:      "TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF",
		HFFile:      "tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf",
		SizeBytes:   668_788_096,
		Format:      "gguf",
		ContextSize: 2048,
	},
	{
		Name:        "llama3",
		Aliases:     []string{"llama3:8b", "llama3-instruct"},
		HFRepo:      "QuantFactory/Meta-Llama-3-8B-Instruct-GGUF",
		HFFile:      "Meta-Llama-3-8B-Instruct.Q4_K_M.gguf",
		SizeBytes:   4_920_734_016,
		Format:      "gguf",
		ContextSize: 8192,
	},
	{
		Name:        "mistral",
		Aliases:     []string{"mistral:7b"},
		HFRepo:      "TheBloke/Mistral-7B-Instruct-v0.2-GGUF",
		HFFile:      "mistral-7b-instruct-v0.2.Q4_K_M.gguf",
		SizeBytes:   4_368_439_584,
		Format:      "gguf",
		ContextSize: 32768,
	},
	{
		Name:        "phi3",
		Aliases:     []string{"phi3:mini"},
		HFRepo:      "microsoft/Phi-3-mini-4k-instruct-gguf",
		HFFile:      "Phi-3-mini-4k-instruct-q4.gguf",
		SizeBytes:   2_393_231_072,
		Format:      "gguf",
		ContextSize: 4096,
	},
	{
		Name:        "qwen2.5",
		Aliases:     []string{"qwen2.5:1.5b"},
		HFRepo:      "Qwen/Qwen2.5-1.5B-Instruct-GGUF",
		HFFile:      "qwen2.5-1.5b-instruct-q4_k_m.gguf",
		SizeBytes:   1_117_320_736,
		Format:      "gguf",
		ContextSize: 32768,
	},
}

// Lookup finds a built-in entry by name or alias. A ":latest" tag is ignored.
func Lookup(query string) *Entry {
	return lookupIn(Catalog, query)
}

func lookupIn(entries []Entry, query string) *Entry {
	q := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(query)), ":latest")
	for i := range entries {
		if strings.ToLower(entries[i].Name) == q {
			return &entries[i]
		}
	}
	for i := range entries {
		for _, a := range entries[i].Aliases {
			if strings.ToLower(a) == q {
				return &entries[i]
			}
		}
	}
	return nil
}

// ─── Catalog File ───────────────────────────────────────────────────────────

type file struct {
	Models []Entry `toml:"model"`
}

// LoadFile parses a catalog.toml. A missing file yields no entries.
func LoadFile(path string) ([]Entry, error) {
	var f file
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrInvalidCatalog, path, err)
	}
	for _, e := range f.Models {
		if err := e.validate(); err != nil {
			return nil, err
		}
	}
	return f.Models, nil
}

// Merge overlays extra on top of base; entries with the same name are
// replaced. The result is sorted by name.
func Merge(base, extra []Entry) []Entry {
	byName := make(map[string]Entry, len(base)+len(extra))
	for _, e := range base {
		byName[e.Name] = e
	}
	for _, e := range extra {
		byName[e.Name] = e
	}
	out := make([]Entry, 0, len(byName))
	for _, e := range byName {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
