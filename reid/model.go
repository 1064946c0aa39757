package reid

import "github.com/ptran/idla-person-reid/nnet"

// ModifiedIDLA returns the default training settings with the layers of the modified improved deep
// learning architecture. Each pair of images is processed by shared convolution layers, the cross
// neighborhood differences between the two feature maps are summarised by a strided convolution and the
// result is classified as same or different person.
func ModifiedIDLA() nnet.Config {
	return nnet.DefaultConfig().AddLayers(
		nnet.Conv{Nfeats: 20, Size: 3},
		nnet.Activation{Atype: "relu"},
		nnet.Conv{Nfeats: 20, Size: 3},
		nnet.Activation{Atype: "relu"},
		nnet.MaxPool{Size: 2},
		nnet.Conv{Nfeats: 25, Size: 3},
		nnet.Activation{Atype: "relu"},
		nnet.Conv{Nfeats: 25, Size: 3},
		nnet.Activation{Atype: "relu"},
		nnet.MaxPool{Size: 2},
		nnet.XnbhdDiff{Rows: 5, Cols: 5},
		nnet.Activation{Atype: "relu"},
		// patch summary
		nnet.Conv{Nfeats: 25, Size: 5, Stride: 5},
		nnet.Activation{Atype: "relu"},
		nnet.Conv{Nfeats: 25, Size: 3},
		nnet.Activation{Atype: "relu"},
		nnet.MaxPool{Size: 2},
		nnet.Reinterpret{Factor: 2},
		nnet.Flatten{},
		nnet.Linear{Nout: 500},
		nnet.Activation{Atype: "relu"},
		nnet.Linear{Nout: 2},
		nnet.LogRegression{},
	)
}

// ModelName is the base name of the checkpoint and stats files for a dataset kind.
func ModelName(kind string) string {
	return "cuhk03_" + kind + "_modified_idla"
}
