// Package gps abstracts an optional position source and records tracks
// alongside recordings.
package gps

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Position is one fix. Valid is false when the source has no lock.
type Position struct {
	Lat   float64
	Lon   float64
	Alt   float64
	Time  time.Time
	Valid bool
}

// Source delivers the current fix. Implementations must be safe for
// concurrent use.
type Source interface {
	Current() Position
}

// NopSource is used when no receiver is attached.
type NopSource struct{}

func (NopSource) Current() Position { return Position{} }

// FixedSource reports a constant position, for stationary installs.
type FixedSource struct {
	Lat, Lon, Alt float64
}

func (f FixedSource) Current() Position {
	return Position{Lat: f.Lat, Lon: f.Lon, Alt: f.Alt, Time: time.Now(), Valid: true}
}

// Tracker samples a source at a fixed interval while a recording runs
// and can export the collected track as GPX.
type Tracker struct {
	source   Source
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	points  []Position
	stopCh  chan struct{}
	running bool
}

// NewTracker builds a tracker. A zero interval defaults to one second.
func NewTracker(source Source, interval time.Duration, log zerolog.Logger) *Tracker {
	if source == nil {
		source = NopSource{}
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Tracker{source: source, interval: interval, log: log}
}

// Snapshot returns the current fix without starting a track.
func (t *Tracker) Snapshot() Position {
	return t.source.Current()
}

// Start begins collecting a fresh track. No-op when already running.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.points = nil
	t.stopCh = make(chan struct{})
	t.running = true
	go t.loop(t.stopCh)
}

func (t *Tracker) loop(stop chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			pos := t.source.Current()
			if !pos.Valid {
				continue
			}
			t.mu.Lock()
			t.points = append(t.points, pos)
			t.mu.Unlock()
		}
	}
}

// Stop ends collection and returns the recorded points.
func (t *Tracker) Stop() []Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil
	}
	close(t.stopCh)
	t.running = false
	return t.points
}

type gpxTrkpt struct {
	Lat  float64 `xml:"lat,attr"`
	Lon  float64 `xml:"lon,attr"`
	Ele  float64 `xml:"ele,omitempty"`
	Time string  `xml:"time,omitempty"`
}

type gpxFile struct {
	XMLName xml.Name   `xml:"gpx"`
	Version string     `xml:"version,attr"`
	Creator string     `xml:"creator,attr"`
	Name    string     `xml:"trk>name"`
	Points  []gpxTrkpt `xml:"trk>trkseg>trkpt"`
}

// WriteGPX serializes a track.
func WriteGPX(w io.Writer, name string, points []Position) error {
	doc := gpxFile{Version: "1.1", Creator: "vrcam", Name: name}
	for _, p := range points {
		doc.Points = append(doc.Points, gpxTrkpt{
			Lat:  p.Lat,
			Lon:  p.Lon,
			Ele:  p.Alt,
			Time: p.Time.UTC().Format(time.RFC3339),
		})
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return enc.Encode(doc)
}

// ExportGPX writes a track file next to a recording. Empty tracks write
// no file and return an empty path.
func ExportGPX(dir, name string, points []Position) (string, error) {
	if len(points) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := fmt.Sprintf("%s/%s.gpx", dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := WriteGPX(f, name, points); err != nil {
		return "", err
	}
	return path, nil
}
