package reid

import (
	"github.com/pkg/errors"
	"github.com/ptran/idla-person-reid/img"
	log "github.com/sirupsen/logrus"
	"github.com/weaviate/hdf5"
)

// SaveHDF5 packs the dataset images as 8 bit pixels together with the person and view of each image and
// the test protocols so that it can be loaded without decoding and resizing each image file.
func SaveHDF5(filePath string, d *Dataset) error {
	file, err := hdf5.CreateFile(filePath, hdf5.F_ACC_TRUNC)
	if err != nil {
		return errors.Wrapf(err, "create %s", filePath)
	}
	defer file.Close()
	var pix []uint8
	var person, view []int32
	for i, p := range d.Persons {
		for v, images := range p.Views {
			for _, m := range images {
				pix = append(pix, m.Uint8()...)
				person = append(person, int32(i))
				view = append(view, int32(v))
			}
		}
	}
	kind := int32(0)
	for i, k := range Kinds {
		if k == d.Kind {
			kind = int32(i)
		}
	}
	var testsets []int32
	for _, set := range d.Protocols {
		if len(set) != ProtocolSize {
			return errors.Errorf("save %s: test protocol has %d persons", filePath, len(set))
		}
		for _, ix := range set {
			testsets = append(testsets, int32(ix))
		}
	}
	nimg := uint(len(person))
	err = writeDataset(file, "images", hdf5.T_NATIVE_UINT8, []uint{nimg, 3, uint(d.Rows), uint(d.Cols)}, &pix)
	if err == nil {
		err = writeDataset(file, "person", hdf5.T_NATIVE_INT32, []uint{nimg}, &person)
	}
	if err == nil {
		err = writeDataset(file, "view", hdf5.T_NATIVE_INT32, []uint{nimg}, &view)
	}
	if err == nil {
		err = writeDataset(file, "persons", hdf5.T_NATIVE_INT32, []uint{1}, &[]int32{int32(len(d.Persons))})
	}
	if err == nil {
		err = writeDataset(file, "kind", hdf5.T_NATIVE_INT32, []uint{1}, &[]int32{kind})
	}
	if err == nil {
		err = writeDataset(file, "testsets", hdf5.T_NATIVE_INT32, []uint{uint(len(d.Protocols)), ProtocolSize}, &testsets)
	}
	if err != nil {
		return errors.Wrapf(err, "save %s", filePath)
	}
	log.WithFields(log.Fields{"file": filePath, "images": nimg, "persons": len(d.Persons)}).Info("saved dataset")
	return nil
}

func writeDataset(file *hdf5.File, name string, dtype *hdf5.Datatype, dims []uint, data interface{}) error {
	space, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return errors.Wrap(err, name)
	}
	defer space.Close()
	ds, err := file.CreateDataset(name, dtype, space)
	if err != nil {
		return errors.Wrap(err, name)
	}
	defer ds.Close()
	return errors.Wrap(ds.Write(data), name)
}

// LoadHDF5 reads a dataset saved with SaveHDF5.
func LoadHDF5(filePath string) (*Dataset, error) {
	file, err := hdf5.OpenFile(filePath, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filePath)
	}
	defer file.Close()
	var pix []uint8
	var person, view, persons, kind, testsets []int32
	dims, err := readDataset(file, "images", &pix)
	if err != nil {
		return nil, errors.Wrap(err, filePath)
	}
	if len(dims) != 4 || dims[1] != 3 {
		return nil, errors.Errorf("%s: invalid images shape %v", filePath, dims)
	}
	nimg := int(dims[0])
	for _, ds := range []struct {
		name string
		data *[]int32
		size int
	}{
		{"person", &person, nimg},
		{"view", &view, nimg},
		{"persons", &persons, 1},
		{"kind", &kind, 1},
		{"testsets", &testsets, NumProtocols * ProtocolSize},
	} {
		if _, err = readDataset(file, ds.name, ds.data); err != nil {
			return nil, errors.Wrap(err, filePath)
		}
		if len(*ds.data) != ds.size {
			return nil, errors.Errorf("%s: dataset %s has %d entries, expected %d", filePath, ds.name, len(*ds.data), ds.size)
		}
	}
	if kind[0] < 0 || int(kind[0]) >= len(Kinds) {
		return nil, errors.Errorf("%s: invalid kind %d", filePath, kind[0])
	}
	d := &Dataset{
		Kind:    Kinds[kind[0]],
		Rows:    int(dims[2]),
		Cols:    int(dims[3]),
		Persons: make([]Person, persons[0]),
	}
	size := 3 * d.Rows * d.Cols
	for i := 0; i < nimg; i++ {
		p, v := int(person[i]), int(view[i])
		if p < 0 || p >= len(d.Persons) || v < 0 || v > 1 {
			return nil, errors.Errorf("%s: image %d has invalid person %d or view %d", filePath, i, p, v)
		}
		m, err := img.FromUint8(pix[i*size:(i+1)*size], d.Cols, d.Rows)
		if err != nil {
			return nil, errors.Wrap(err, filePath)
		}
		d.Persons[p].Views[v] = append(d.Persons[p].Views[v], m)
	}
	for i := 0; i < NumProtocols; i++ {
		set := make([]int, ProtocolSize)
		for j := range set {
			set[j] = int(testsets[i*ProtocolSize+j])
		}
		d.Protocols = append(d.Protocols, set)
	}
	if err = d.Validate(); err != nil {
		return nil, errors.Wrap(err, filePath)
	}
	d.logSummary(filePath)
	return d, nil
}

func readDataset(file *hdf5.File, name string, data interface{}) ([]uint, error) {
	ds, err := file.OpenDataset(name)
	if err != nil {
		return nil, errors.Wrapf(err, "open dataset %s", name)
	}
	defer ds.Close()
	space := ds.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, errors.Wrapf(err, "dataset %s", name)
	}
	n := 1
	for _, d := range dims {
		n *= int(d)
	}
	switch buf := data.(type) {
	case *[]uint8:
		*buf = make([]uint8, n)
	case *[]int32:
		*buf = make([]int32, n)
	default:
		return nil, errors.Errorf("dataset %s: unsupported buffer type %T", name, data)
	}
	return dims, errors.Wrapf(ds.Read(data), "read dataset %s", name)
}
