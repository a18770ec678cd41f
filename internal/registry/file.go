package registry

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/apiwatch/apiwatch/internal/domain"
)

var _ Registry = (*File)(nil)

// File serves endpoints declared in a YAML file, for deployments without a
// database-backed registry. The file is read once at startup; editing it
// means restarting the daemon.
type File struct {
	endpoints []domain.Endpoint
	byID      map[domain.EndpointID]int
}

type fileDoc struct {
	Endpoints []fileEndpoint `yaml:"endpoints"`
}

// duration accepts "30s" style values; yaml.v3 only decodes bare
// integers (nanoseconds) into time.Duration.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = duration(v)
	return nil
}

type fileEndpoint struct {
	ID                 string            `yaml:"id"`
	Name               string            `yaml:"name"`
	URL                string            `yaml:"url"`
	Method             string            `yaml:"method"`
	Headers            map[string]string `yaml:"headers"`
	Timeout            duration          `yaml:"timeout"`
	Interval           duration          `yaml:"interval"`
	LatencyThresholdMS *float64          `yaml:"latency_threshold_ms"`
	Active             *bool             `yaml:"active"` // unset means active
}

func NewFile(path string, defaults Defaults) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read endpoints file: %w", err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse endpoints file: %w", err)
	}

	f := &File{
		endpoints: make([]domain.Endpoint, 0, len(doc.Endpoints)),
		byID:      make(map[domain.EndpointID]int, len(doc.Endpoints)),
	}
	for i, fe := range doc.Endpoints {
		if fe.URL == "" {
			return nil, fmt.Errorf("endpoints[%d]: url is required", i)
		}
		ep := domain.Endpoint{
			ID:                 domain.EndpointID(fe.ID),
			Name:               fe.Name,
			URL:                fe.URL,
			Method:             fe.Method,
			Headers:            fe.Headers,
			Timeout:            time.Duration(fe.Timeout),
			Interval:           time.Duration(fe.Interval),
			LatencyThresholdMS: fe.LatencyThresholdMS,
			Active:             fe.Active == nil || *fe.Active,
		}
		if ep.ID == "" {
			// Derive a stable id from the request shape so schedules and
			// stored history survive restarts.
			ep.ID = domain.EndpointID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(fe.Method+" "+fe.URL)).String())
		}
		if _, dup := f.byID[ep.ID]; dup {
			return nil, fmt.Errorf("endpoints[%d]: duplicate id %q", i, ep.ID)
		}
		defaults.apply(&ep)
		f.byID[ep.ID] = len(f.endpoints)
		f.endpoints = append(f.endpoints, ep)
	}
	return f, nil
}

func (f *File) ListActive(ctx context.Context) ([]domain.Endpoint, error) {
	out := make([]domain.Endpoint, 0, len(f.endpoints))
	for _, ep := range f.endpoints {
		if ep.Active {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (f *File) ListAll(ctx context.Context) ([]domain.Endpoint, error) {
	out := make([]domain.Endpoint, len(f.endpoints))
	copy(out, f.endpoints)
	return out, nil
}

func (f *File) Get(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	i, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	ep := f.endpoints[i]
	return &ep, nil
}
