// Package reid contains the CUHK03 person re-identification dataset, the paired minibatch generator used
// for training and the cumulative match curve evaluation.
package reid

import (
	"github.com/pkg/errors"
	"github.com/ptran/idla-person-reid/img"
	log "github.com/sirupsen/logrus"
)

const (
	// NumProtocols is the number of predefined test splits
	NumProtocols = 20
	// ProtocolSize is the number of person identities in each test split
	ProtocolSize = 100
	// default image size
	DefaultRows = 160
	DefaultCols = 60
)

// Camera views, probe images are matched against gallery images.
const (
	Probe = iota
	Gallery
)

// Kind of CUHK03 bounding boxes
var Kinds = []string{"labeled", "detected"}

// Person holds the images of one identity from each camera view, either list may be empty.
type Person struct {
	Views [2][]*img.Image
}

// Dataset is the full set of persons together with the test protocols. It is not modified after loading.
type Dataset struct {
	Kind      string
	Rows      int
	Cols      int
	Persons   []Person
	Protocols [][]int
}

// Pair of images, Label is 1 if both are of the same person.
type Pair struct {
	Left, Right *img.Image
	Label       int32
}

// Labels returns the label for each pair.
func Labels(pairs []Pair) []int32 {
	labels := make([]int32, len(pairs))
	for i, p := range pairs {
		labels[i] = p.Label
	}
	return labels
}

// ValidKind checks the dataset kind name
func ValidKind(kind string) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Validate checks that there are NumProtocols test splits, each with ProtocolSize distinct person indices
// in range, and that every image has the dataset size.
func (d *Dataset) Validate() error {
	if len(d.Protocols) != NumProtocols {
		return errors.Errorf("have %d test protocols, expected %d", len(d.Protocols), NumProtocols)
	}
	for i, prot := range d.Protocols {
		if len(prot) != ProtocolSize {
			return errors.Errorf("test protocol %d has %d persons, expected %d", i, len(prot), ProtocolSize)
		}
		seen := make(map[int]bool)
		for _, ix := range prot {
			if ix < 0 || ix >= len(d.Persons) {
				return errors.Errorf("test protocol %d: person %d out of range", i, ix)
			}
			if seen[ix] {
				return errors.Errorf("test protocol %d: duplicate person %d", i, ix)
			}
			seen[ix] = true
		}
	}
	for i, p := range d.Persons {
		for view, images := range p.Views {
			for j, m := range images {
				if m.Height != d.Rows || m.Width != d.Cols {
					return errors.Errorf("person %d view %d image %d: size %dx%d, expected %dx%d",
						i, view, j, m.Height, m.Width, d.Rows, d.Cols)
				}
			}
		}
	}
	return nil
}

// Protocol returns the person indices for the given test split.
func (d *Dataset) Protocol(n int) ([]int, error) {
	if n < 0 || n >= len(d.Protocols) {
		return nil, errors.Errorf("test protocol %d out of range", n)
	}
	return d.Protocols[n], nil
}

// Images returns all of the images of the given persons.
func (d *Dataset) Images(persons []int) []*img.Image {
	var images []*img.Image
	for _, ix := range persons {
		for _, view := range d.Persons[ix].Views {
			images = append(images, view...)
		}
	}
	return images
}

// Complement returns the indices of all persons not in the given sets, in ascending order.
func (d *Dataset) Complement(sets ...[]int) []int {
	exclude := make(map[int]bool)
	for _, set := range sets {
		for _, ix := range set {
			exclude[ix] = true
		}
	}
	var res []int
	for ix := range d.Persons {
		if !exclude[ix] {
			res = append(res, ix)
		}
	}
	return res
}

func (d *Dataset) logSummary(source string) {
	var probes, gallery, empty int
	for _, p := range d.Persons {
		probes += len(p.Views[Probe])
		gallery += len(p.Views[Gallery])
		if len(p.Views[Probe]) == 0 || len(p.Views[Gallery]) == 0 {
			empty++
		}
	}
	log.WithFields(log.Fields{
		"source":  source,
		"kind":    d.Kind,
		"persons": len(d.Persons),
		"probe":   probes,
		"gallery": gallery,
		"partial": empty,
	}).Info("loaded dataset")
}
