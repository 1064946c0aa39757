package reid

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/ptran/idla-person-reid/img"
	log "github.com/sirupsen/logrus"
)

// TestSetsFile is the name of the file in the dataset directory listing the test protocols.
const TestSetsFile = "testsets.csv"

// images numbered below this belong to the probe view
const viewSplit = 5

type imageFile struct {
	path   string
	person int
	view   int
}

// LoadDir loads images from root/kind/PPPP_II.jpg where PPPP is the person index and II the image index,
// resizing each to rows x cols, and the test protocols from root/testsets.csv.
func LoadDir(root, kind string, rows, cols int) (*Dataset, error) {
	if !ValidKind(kind) {
		return nil, errors.Errorf("invalid dataset kind %q", kind)
	}
	files, persons, err := listImages(filepath.Join(root, kind))
	if err != nil {
		return nil, err
	}
	d := &Dataset{Kind: kind, Rows: rows, Cols: cols, Persons: make([]Person, persons)}
	if d.Protocols, err = LoadTestSets(filepath.Join(root, TestSetsFile)); err != nil {
		return nil, err
	}
	images := make([]*img.Image, len(files))
	errs := make([]error, len(files))
	threads := runtime.GOMAXPROCS(0)
	var wg sync.WaitGroup
	for thread := 0; thread < threads; thread++ {
		wg.Add(1)
		go func(thread int) {
			for i := thread; i < len(files); i += threads {
				images[i], errs[i] = img.Load(files[i].path, cols, rows)
			}
			wg.Done()
		}(thread)
	}
	wg.Wait()
	for i, f := range files {
		if errs[i] != nil {
			return nil, errors.Wrapf(errs[i], "load %s", f.path)
		}
		p := &d.Persons[f.person]
		p.Views[f.view] = append(p.Views[f.view], images[i])
	}
	if err = d.Validate(); err != nil {
		return nil, errors.Wrap(err, root)
	}
	d.logSummary(root)
	return d, nil
}

// list image files in sorted order and return them with the number of persons
func listImages(dir string) ([]imageFile, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list images")
	}
	var files []imageFile
	persons := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
			continue
		}
		person, index, ok := parseImageName(strings.TrimSuffix(name, filepath.Ext(name)))
		if !ok {
			log.Warnf("skip image file with unexpected name: %s", name)
			continue
		}
		view := Probe
		if index >= viewSplit {
			view = Gallery
		}
		files = append(files, imageFile{path: filepath.Join(dir, name), person: person, view: view})
		if person+1 > persons {
			persons = person + 1
		}
	}
	if len(files) == 0 {
		return nil, 0, errors.Errorf("no images found in %s", dir)
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].person < files[j].person })
	return files, persons, nil
}

func parseImageName(name string) (person, index int, ok bool) {
	fields := strings.Split(name, "_")
	if len(fields) != 2 {
		return 0, 0, false
	}
	var err1, err2 error
	person, err1 = strconv.Atoi(fields[0])
	index, err2 = strconv.Atoi(fields[1])
	return person, index, err1 == nil && err2 == nil && person >= 0 && index >= 0
}

// LoadTestSets reads one test protocol per line as comma separated person indices.
func LoadTestSets(filePath string) ([][]int, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "load test sets")
	}
	defer f.Close()
	var sets [][]int
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var set []int
		for _, field := range strings.Split(text, ",") {
			ix, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil {
				return nil, errors.Wrapf(err, "%s line %d", filePath, line)
			}
			set = append(set, ix)
		}
		sets = append(sets, set)
	}
	return sets, errors.Wrap(scanner.Err(), filePath)
}

// SaveTestSets writes the protocols in the format read by LoadTestSets.
func SaveTestSets(filePath string, sets [][]int) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrap(err, "save test sets")
	}
	w := bufio.NewWriter(f)
	for _, set := range sets {
		s := make([]string, len(set))
		for i, ix := range set {
			s[i] = strconv.Itoa(ix)
		}
		w.WriteString(strings.Join(s, ",") + "\n")
	}
	if err = w.Flush(); err != nil {
		f.Close()
		return errors.Wrap(err, "save test sets")
	}
	return errors.Wrap(f.Close(), "save test sets")
}

// Load reads a dataset from a packed HDF5 file if the path has a .h5 extension, else from a directory.
func Load(path, kind string, rows, cols int) (*Dataset, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".h5" || ext == ".hdf5" {
		d, err := LoadHDF5(path)
		if err != nil {
			return nil, err
		}
		if d.Kind != kind {
			return nil, errors.Errorf("%s holds the %s dataset, not %s", path, d.Kind, kind)
		}
		return d, nil
	}
	return LoadDir(path, kind, rows, cols)
}
