// Package export writes the artifacts of a finished simulation to disk for
// use in a sandbox: lures as RFC 5322 messages, SMS lures and honeydocs as
// text, and a manifest of the tracking tokens substituted into each.
package export

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"cymbytes.com/doppelganger/pkg/simulation"
)

// ManifestFile is the name of the token manifest in the export directory.
const ManifestFile = "tokens.yaml"

// Artifact kinds recorded in the manifest.
const (
	KindLure     = "lure"
	KindSMS      = "sms"
	KindHoneydoc = "honeydoc"
)

// Config holds export configuration.
type Config struct {
	// Dir is the export root; each run gets a subdirectory
	Dir string `yaml:"dir"`

	// From and To are the sandbox mailbox addresses put on lure messages
	From string `yaml:"from"`
	To   string `yaml:"to"`

	// TrackingBaseURL prefixes tokens when set, e.g. https://track.lab.local/t
	TrackingBaseURL string `yaml:"tracking_base_url"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Dir:  "./exports",
		From: "sim-sender@sandbox.invalid",
		To:   "sim-recipient@sandbox.invalid",
	}
}

// TokenRecord ties one tracking token to the artifact it was placed in.
type TokenRecord struct {
	Token      string `yaml:"token"`
	Kind       string `yaml:"kind"`
	ArtifactID string `yaml:"artifact_id"`
	PhaseID    string `yaml:"phase_id"`
	File       string `yaml:"file"`
}

// Manifest lists every token issued for a run.
type Manifest struct {
	RunID       string        `yaml:"run_id"`
	GeneratedAt time.Time     `yaml:"generated_at"`
	Persona     string        `yaml:"persona"`
	Tokens      []TokenRecord `yaml:"tokens"`
}

// Exporter writes simulation artifacts to disk.
type Exporter struct {
	cfg    Config
	logger zerolog.Logger

	// newToken is replaceable in tests
	newToken func() string
	now      func() time.Time
}

// New creates an exporter.
func New(cfg Config, logger zerolog.Logger) *Exporter {
	return &Exporter{
		cfg:      cfg,
		logger:   logger.With().Str("component", "export").Logger(),
		newToken: func() string { return uuid.New().String() },
		now:      time.Now,
	}
}

// Export writes the run's artifacts under <Dir>/<runID> and returns the
// manifest, which is also written there as tokens.yaml.
func (e *Exporter) Export(runID string, result *simulation.Result) (*Manifest, error) {
	root := filepath.Join(e.cfg.Dir, safeName(runID))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	manifest := &Manifest{
		RunID:       runID,
		GeneratedAt: e.now().UTC(),
		Persona:     result.Persona.Name,
	}

	for _, artifact := range result.Artifacts {
		phaseDir := filepath.Join(root, safeName(artifact.PhaseID))
		for _, sub := range []string{"lures", "sms", "honeydocs"} {
			if err := os.MkdirAll(filepath.Join(phaseDir, sub), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create phase directory: %w", err)
			}
		}

		for _, lure := range artifact.Lures {
			rec := e.issue(KindLure, lure.TemplateID, artifact.PhaseID, filepath.Join(safeName(artifact.PhaseID), "lures", safeName(lure.TemplateID)+".eml"))
			var buf bytes.Buffer
			if err := e.writeLure(&buf, lure, result.Persona, e.substitute(lure.BodyPlaintext, rec.Token)); err != nil {
				return nil, fmt.Errorf("failed to build lure %s: %w", lure.TemplateID, err)
			}
			if err := os.WriteFile(filepath.Join(root, rec.File), buf.Bytes(), 0o644); err != nil {
				return nil, fmt.Errorf("failed to write lure %s: %w", lure.TemplateID, err)
			}
			manifest.Tokens = append(manifest.Tokens, rec)
		}

		for _, sms := range artifact.SmsLures {
			rec := e.issue(KindSMS, sms.TemplateID, artifact.PhaseID, filepath.Join(safeName(artifact.PhaseID), "sms", safeName(sms.TemplateID)+".txt"))
			body := e.substitute(sms.BodyShort, rec.Token) + "\n"
			if err := os.WriteFile(filepath.Join(root, rec.File), []byte(body), 0o644); err != nil {
				return nil, fmt.Errorf("failed to write sms lure %s: %w", sms.TemplateID, err)
			}
			manifest.Tokens = append(manifest.Tokens, rec)
		}

		for _, doc := range artifact.Honeydocs {
			rec := e.issue(KindHoneydoc, doc.DocID, artifact.PhaseID, filepath.Join(safeName(artifact.PhaseID), "honeydocs", safeName(doc.DocID)+".txt"))
			if err := os.WriteFile(filepath.Join(root, rec.File), []byte(e.renderHoneydoc(doc, rec.Token)), 0o644); err != nil {
				return nil, fmt.Errorf("failed to write honeydoc %s: %w", doc.DocID, err)
			}
			manifest.Tokens = append(manifest.Tokens, rec)
		}
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, ManifestFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	e.logger.Info().
		Str("run_id", runID).
		Str("dir", root).
		Int("tokens", len(manifest.Tokens)).
		Msg("Artifacts exported")

	return manifest, nil
}

// LoadManifest reads a manifest written by Export.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

func (e *Exporter) issue(kind, artifactID, phaseID, file string) TokenRecord {
	return TokenRecord{
		Token:      e.newToken(),
		Kind:       kind,
		ArtifactID: artifactID,
		PhaseID:    phaseID,
		File:       filepath.ToSlash(file),
	}
}

// substitute replaces every token placeholder with the tracking token.
func (e *Exporter) substitute(text, token string) string {
	value := token
	if e.cfg.TrackingBaseURL != "" {
		value = strings.TrimRight(e.cfg.TrackingBaseURL, "/") + "/" + token
	}
	return strings.ReplaceAll(text, simulation.TokenPlaceholder, value)
}

func (e *Exporter) writeLure(w io.Writer, lure simulation.LureTemplate, persona simulation.Persona, body string) error {
	var h mail.Header
	h.SetDate(e.now())
	h.SetSubject(lure.Subject)
	h.SetAddressList("From", []*mail.Address{{Name: persona.Name, Address: e.cfg.From}})
	h.SetAddressList("To", []*mail.Address{{Address: e.cfg.To}})
	if err := h.GenerateMessageID(); err != nil {
		return err
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("X-Simulation-Template", lure.TemplateID)
	if lure.Preheader != "" {
		h.Set("X-Simulation-Preheader", lure.Preheader)
	}
	h.Set("X-Simulation-Notice", "Sandbox training content. Do not deliver outside the lab.")

	mw, err := mail.CreateSingleInlineWriter(w, h)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(mw, body); err != nil {
		mw.Close()
		return err
	}
	if lure.CallToActionText != "" {
		if _, err := io.WriteString(mw, "\n\n["+lure.CallToActionText+"]\n"); err != nil {
			mw.Close()
			return err
		}
	}
	return mw.Close()
}

func (e *Exporter) renderHoneydoc(doc simulation.Honeydoc, token string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", doc.Title)
	if doc.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", doc.Author)
	}
	if doc.Metadata.Department != "" {
		fmt.Fprintf(&b, "Department: %s\n", doc.Metadata.Department)
	}
	if doc.Metadata.LastModifiedHint != "" {
		fmt.Fprintf(&b, "Last modified: %s\n", doc.Metadata.LastModifiedHint)
	}
	b.WriteString("\n")
	b.WriteString(e.substitute(doc.BodyText, token))
	b.WriteString("\n")
	return b.String()
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// safeName turns a generated id into a single path element.
func safeName(id string) string {
	name := strings.Trim(unsafeChars.ReplaceAllString(id, "_"), "._")
	if name == "" {
		return "unnamed"
	}
	return name
}
