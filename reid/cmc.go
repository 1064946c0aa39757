package reid

import (
	"bufio"
	"io"
	"math/rand"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// DefaultTrials is the number of random gallery selections per probe image.
const DefaultTrials = 100

// CMC computes the cumulative match curve over the persons in protocol. Each probe view image of each
// person is compared against one randomly chosen gallery view image of every person in the protocol, and
// the position of the true match in the list sorted by descending score is recorded. This is repeated
// for the given number of trials. Element k of the result is the fraction of matches found within the
// top k+1 places.
//
// Persons without gallery images are left out of the gallery and persons without probe or gallery images
// are not used as probes. Equal scores are ordered by ascending person index.
func CMC(data *Dataset, protocol []int, scorer Scorer, trials int, rng *rand.Rand) ([]float64, error) {
	if trials < 1 {
		return nil, errors.Errorf("cmc: trials must be positive, got %d", trials)
	}
	if len(protocol) == 0 {
		return nil, errors.New("cmc: empty protocol")
	}
	persons := data.Persons
	var gallery []int
	for _, id := range protocol {
		if id < 0 || id >= len(persons) {
			return nil, errors.Errorf("cmc: person %d out of range", id)
		}
		if len(persons[id].Views[Gallery]) > 0 {
			gallery = append(gallery, id)
		}
	}
	counts := make([]int, len(protocol))
	probes := 0
	var pairs []Pair
	for _, id := range protocol {
		if len(persons[id].Views[Probe]) == 0 || len(persons[id].Views[Gallery]) == 0 {
			log.Debugf("cmc: skip probe person %d", id)
			continue
		}
		for _, probe := range persons[id].Views[Probe] {
			// score every gallery image once, each trial then selects one score per person
			pairs = pairs[:0]
			offset := make([]int, len(gallery)+1)
			for i, g := range gallery {
				for _, m := range persons[g].Views[Gallery] {
					pairs = append(pairs, Pair{Left: probe, Right: m})
				}
				offset[i+1] = len(pairs)
			}
			scores, err := scorer.Score(pairs)
			if err != nil {
				return nil, errors.Wrap(err, "cmc")
			}
			if len(scores) != len(pairs) {
				return nil, errors.Errorf("cmc: got %d scores for %d pairs", len(scores), len(pairs))
			}
			selected := make([]float64, len(gallery))
			for trial := 0; trial < trials; trial++ {
				match := 0.0
				for i, g := range gallery {
					selected[i] = scores[offset[i]+rng.Intn(offset[i+1]-offset[i])]
					if g == id {
						match = selected[i]
					}
				}
				counts[rank(gallery, selected, id, match)]++
			}
			probes++
		}
	}
	if probes == 0 {
		return nil, errors.New("cmc: no usable probe images")
	}
	cmc := make([]float64, len(protocol))
	total := 0
	for k, n := range counts {
		total += n
		cmc[k] = float64(total) / float64(probes*trials)
	}
	return cmc, nil
}

// rank is the position of person id in the gallery list after a stable sort by descending score with ties
// ordered by ascending person index.
func rank(gallery []int, scores []float64, id int, match float64) int {
	r := 0
	for i, g := range gallery {
		if scores[i] > match || (scores[i] == match && g < id) {
			r++
		}
	}
	return r
}

// Rank returns the fraction of matches within the top k places.
func Rank(cmc []float64, k int) float64 {
	if k < 1 || len(cmc) == 0 {
		return 0
	}
	if k > len(cmc) {
		k = len(cmc)
	}
	return cmc[k-1]
}

// AverageCMC returns the element wise mean of a set of curves of the same length.
func AverageCMC(curves [][]float64) ([]float64, error) {
	if len(curves) == 0 {
		return nil, errors.New("cmc: no curves to average")
	}
	avg := make([]float64, len(curves[0]))
	for i, c := range curves {
		if len(c) != len(avg) {
			return nil, errors.Errorf("cmc: curve %d has length %d, expected %d", i, len(c), len(avg))
		}
		floats.Add(avg, c)
	}
	floats.Scale(1/float64(len(curves)), avg)
	return avg, nil
}

// WriteCMC writes the curve as a single line of comma separated values.
func WriteCMC(w io.Writer, cmc []float64) error {
	s := make([]string, len(cmc))
	for i, v := range cmc {
		s[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	_, err := io.WriteString(w, strings.Join(s, ",")+"\n")
	return errors.Wrap(err, "write cmc")
}

// ReadCMC parses a curve written by WriteCMC.
func ReadCMC(r io.Reader) ([]float64, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "read cmc")
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, errors.New("read cmc: empty input")
	}
	fields := strings.Split(line, ",")
	cmc := make([]float64, len(fields))
	for i, f := range fields {
		if cmc[i], err = strconv.ParseFloat(strings.TrimSpace(f), 64); err != nil {
			return nil, errors.Wrapf(err, "read cmc: field %d", i)
		}
	}
	return cmc, nil
}
