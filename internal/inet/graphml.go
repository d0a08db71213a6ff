package inet

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const graphmlNamespace = "http://graphml.graphdrawing.org/xmlns"

type graphmlDoc struct {
	XMLName xml.Name     `xml:"graphml"`
	Xmlns   string       `xml:"xmlns,attr"`
	Keys    []graphmlKey `xml:"key"`
	Graph   graphmlGraph `xml:"graph"`
}

type graphmlKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	AttrName string `xml:"attr.name,attr"`
	AttrType string `xml:"attr.type,attr"`
}

type graphmlGraph struct {
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []graphmlNode `xml:"node"`
	Edges       []graphmlEdge `xml:"edge"`
}

type graphmlNode struct {
	ID string `xml:"id,attr"`
}

type graphmlEdge struct {
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphmlData `xml:"data"`
}

type graphmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// SaveGraphML writes measurements as a directed GraphML graph with a
// "latency" edge attribute.
func SaveGraphML(path string, measurements []Measurement) error {
	doc := graphmlDoc{
		Xmlns: graphmlNamespace,
		Keys: []graphmlKey{
			{ID: "d0", For: "edge", AttrName: "latency", AttrType: "double"},
		},
		Graph: graphmlGraph{EdgeDefault: "directed"},
	}

	seen := make(map[string]bool)
	addNode := func(id string) {
		if !seen[id] {
			seen[id] = true
			doc.Graph.Nodes = append(doc.Graph.Nodes, graphmlNode{ID: id})
		}
	}
	for _, m := range measurements {
		addNode(m.Source)
		addNode(m.Destination)
		doc.Graph.Edges = append(doc.Graph.Edges, graphmlEdge{
			Source: m.Source,
			Target: m.Destination,
			Data:   []graphmlData{{Key: "d0", Value: strconv.FormatFloat(m.Avg, 'g', -1, 64)}},
		})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append([]byte(xml.Header), out...), 0o644)
}

// LoadGraphML reads a GraphML latency graph back into measurements.
func LoadGraphML(path string) ([]Measurement, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc graphmlDoc
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	latencyKey := "d0"
	for _, k := range doc.Keys {
		if k.AttrName == "latency" && k.For == "edge" {
			latencyKey = k.ID
			break
		}
	}

	var measurements []Measurement
	for _, e := range doc.Graph.Edges {
		for _, d := range e.Data {
			if d.Key != latencyKey {
				continue
			}
			avg, err := strconv.ParseFloat(d.Value, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing %s: edge %s -> %s: %w", path, e.Source, e.Target, err)
			}
			measurements = append(measurements, Measurement{
				Source:      e.Source,
				Destination: e.Target,
				Avg:         avg,
				Max:         -1,
				Min:         -1,
			})
			break
		}
	}
	return measurements, nil
}
