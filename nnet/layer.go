package nnet

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/ptran/idla-person-reid/num"
)

// Layer interface type represents one layer of the neural net.
// Activations are 4 dimensional (samples, channels, rows, cols) until they are flattened to (samples, features).
type Layer interface {
	Init(q num.Queue, inShape []int, prev Layer) error
	OutShape(inShape []int) []int
	Fprop(in num.Array) num.Array
	Bprop(grad num.Array) num.Array
	ToString() string
}

// ParamLayer is a layer with weight and bias parameters
type ParamLayer interface {
	Layer
	InitParams(rng *rand.Rand, bias float32, normal bool)
	Params() (W, B num.Array)
	ParamGrads() (dW, dB num.Array)
	SetParams(W, B num.Array)
	UpdateParams(learningRate, weightDecay, momentum float32)
}

// OutputLayer is the final layer in the stack
type OutputLayer interface {
	Layer
	Loss(yOneHot, yPred num.Array) num.Array
}

// Layer configuration details
type LayerConfig struct {
	Type string
	Data json.RawMessage
}

type ConfigLayer interface {
	Marshal() LayerConfig
}

// Unmarshal JSON data and construct new layer
func (l LayerConfig) Unmarshal() (Layer, error) {
	switch l.Type {
	case "conv":
		cfg := new(Conv)
		return cfg.unmarshal(l.Data)
	case "maxPool":
		cfg := new(MaxPool)
		return cfg.unmarshal(l.Data)
	case "linear":
		cfg := new(Linear)
		return cfg.unmarshal(l.Data)
	case "activation":
		cfg := new(Activation)
		return cfg.unmarshal(l.Data)
	case "xnbhdDiff":
		cfg := new(XnbhdDiff)
		return cfg.unmarshal(l.Data)
	case "reinterpret":
		cfg := new(Reinterpret)
		return cfg.unmarshal(l.Data)
	case "logRegression":
		return &logRegression{}, nil
	case "flatten":
		return &flatten{}, nil
	default:
		return nil, errors.Errorf("invalid layer type: %q", l.Type)
	}
}

func (l LayerConfig) String() string {
	layer, err := l.Unmarshal()
	if err != nil {
		return l.Type + ": " + err.Error()
	}
	return layer.ToString()
}

// Convolutional layer, implements ParamLayer interface.
type Conv struct {
	Nfeats, Size, Stride, Pad int
}

func (c Conv) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = 1
	}
	return LayerConfig{Type: "conv", Data: marshal(c)}
}

func (c Conv) ToString() string {
	return fmt.Sprintf("conv %+v", c)
}

func (c *Conv) unmarshal(data json.RawMessage) (Layer, error) {
	if err := json.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "conv")
	}
	return &conv{Conv: *c}, nil
}

// Max pooling layer, should follow conv layer.
type MaxPool struct {
	Size, Stride int
}

func (c MaxPool) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = c.Size
	}
	return LayerConfig{Type: "maxPool", Data: marshal(c)}
}

func (c MaxPool) ToString() string {
	return fmt.Sprintf("maxPool %+v", c)
}

func (c *MaxPool) unmarshal(data json.RawMessage) (Layer, error) {
	if err := json.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "maxPool")
	}
	return &maxPool{MaxPool: *c}, nil
}

// Linear fully connected layer, implements ParamLayer interface.
type Linear struct {
	Nout int
}

func (c Linear) Marshal() LayerConfig {
	return LayerConfig{Type: "linear", Data: marshal(c)}
}

func (c Linear) ToString() string {
	return fmt.Sprintf("linear %+v", c)
}

func (c *Linear) unmarshal(data json.RawMessage) (Layer, error) {
	if err := json.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "linear")
	}
	return &linear{Linear: *c}, nil
}

// Activation layer, only relu is currently supported.
type Activation struct {
	Atype string
}

func (c Activation) Marshal() LayerConfig {
	return LayerConfig{Type: "activation", Data: marshal(c)}
}

func (c Activation) ToString() string {
	return fmt.Sprintf("activation %+v", c)
}

func (c *Activation) unmarshal(data json.RawMessage) (Layer, error) {
	if err := json.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "activation")
	}
	layer := &activation{Activation: *c}
	switch c.Atype {
	case "relu":
		layer.activ = num.Relu
		layer.deriv = num.ReluD
	default:
		return nil, errors.Errorf("activation type %s invalid", c.Atype)
	}
	return layer, nil
}

// XnbhdDiff layer computes the cross neighborhood differences between the feature maps of each adjacent
// pair of samples over a Rows x Cols window.
type XnbhdDiff struct {
	Rows, Cols int
}

func (c XnbhdDiff) Marshal() LayerConfig {
	return LayerConfig{Type: "xnbhdDiff", Data: marshal(c)}
}

func (c XnbhdDiff) ToString() string {
	return fmt.Sprintf("xnbhdDiff %+v", c)
}

func (c *XnbhdDiff) unmarshal(data json.RawMessage) (Layer, error) {
	if err := json.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "xnbhdDiff")
	}
	return &xnbhdDiff{XnbhdDiff: *c}, nil
}

// Reinterpret layer merges each group of Factor adjacent samples into one sample with Factor times as
// many channels. The data is not copied.
type Reinterpret struct {
	Factor int
}

func (c Reinterpret) Marshal() LayerConfig {
	return LayerConfig{Type: "reinterpret", Data: marshal(c)}
}

func (c Reinterpret) ToString() string {
	return fmt.Sprintf("reinterpret %+v", c)
}

func (c *Reinterpret) unmarshal(data json.RawMessage) (Layer, error) {
	if err := json.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "reinterpret")
	}
	return &reinterpret{Reinterpret: *c}, nil
}

// LogRegression output layer with soft max activation.
type LogRegression struct{}

func (c LogRegression) Marshal() LayerConfig {
	return LayerConfig{Type: "logRegression"}
}

// Flatten layer reshapes from 4 to 2 dimensions.
type Flatten struct{}

func (c Flatten) Marshal() LayerConfig {
	return LayerConfig{Type: "flatten"}
}

// linear layer implementation, input is samples x features, W is features x Nout
type linear struct {
	Linear
	layerBase
	paramBase
	ones num.Array
}

func (l *linear) OutShape(inShape []int) []int {
	return []int{inShape[0], l.Nout}
}

func (l *linear) Init(q num.Queue, inShape []int, prev Layer) error {
	if len(inShape) != 2 {
		return errors.Errorf("linear: expect 2 dimensional input, got %v", inShape)
	}
	if l.Nout < 1 {
		return errors.Errorf("linear: invalid output size %d", l.Nout)
	}
	nBatch, nIn := inShape[0], inShape[1]
	l.layerBase = newLayerBase(q, inShape, l.OutShape(inShape), prev)
	l.paramBase = newParams(q, []int{nIn, l.Nout}, []int{l.Nout}, nIn)
	l.ones = q.NewArray(nBatch)
	q.Call(num.Fill(l.ones, 1))
	return nil
}

func (l *linear) Fprop(in num.Array) num.Array {
	l.src = in
	l.queue.Call(
		num.Copy(l.dst, l.b),
		num.Gemm(1, 1, l.src, l.w, l.dst, num.NoTrans, num.NoTrans),
	)
	return l.dst
}

func (l *linear) Bprop(grad num.Array) num.Array {
	l.queue.Call(
		num.Gemv(1, 0, grad, l.ones, l.db, num.Trans),
		num.Gemm(1, 0, l.src, grad, l.dw, num.Trans, num.NoTrans),
	)
	if l.dsrc == nil {
		return nil
	}
	l.queue.Call(num.Gemm(1, 0, grad, l.w, l.dsrc, num.NoTrans, num.Trans))
	return l.dsrc
}

// convolutional layer implementation
type conv struct {
	Conv
	layerBase
	paramBase
	params num.ConvParams
}

func (l *conv) OutShape(inShape []int) []int {
	shape, _ := num.ConvShape(inShape, l.Nfeats, l.convParams())
	return shape
}

func (l *conv) convParams() num.ConvParams {
	p := num.ConvParams{Size: l.Size, Stride: l.Stride, Pad: l.Pad}
	if p.Stride == 0 {
		p.Stride = 1
	}
	return p
}

func (l *conv) Init(q num.Queue, inShape []int, prev Layer) error {
	l.params = l.convParams()
	outShape, err := num.ConvShape(inShape, l.Nfeats, l.params)
	if err != nil {
		return err
	}
	nIn := inShape[1] * l.Size * l.Size
	l.layerBase = newLayerBase(q, inShape, outShape, prev)
	l.paramBase = newParams(q, []int{l.Nfeats, inShape[1], l.Size, l.Size}, []int{l.Nfeats}, nIn)
	return nil
}

func (l *conv) Fprop(in num.Array) num.Array {
	l.src = in
	l.queue.Call(num.ConvFprop(l.src, l.w, l.b, l.dst, l.params))
	return l.dst
}

func (l *conv) Bprop(grad num.Array) num.Array {
	l.queue.Call(num.ConvBprop(l.src, l.w, grad, l.dw, l.db, l.dsrc, l.params))
	return l.dsrc
}

// pool layer implentation
type maxPool struct {
	MaxPool
	layerBase
	mask []int32
}

func (l *maxPool) stride() int {
	if l.Stride == 0 {
		return l.Size
	}
	return l.Stride
}

func (l *maxPool) OutShape(inShape []int) []int {
	shape, _ := num.PoolShape(inShape, l.Size, l.stride())
	return shape
}

func (l *maxPool) Init(q num.Queue, inShape []int, prev Layer) error {
	outShape, err := num.PoolShape(inShape, l.Size, l.stride())
	if err != nil {
		return err
	}
	l.layerBase = newLayerBase(q, inShape, outShape, prev)
	l.mask = make([]int32, num.Prod(outShape))
	return nil
}

func (l *maxPool) Fprop(in num.Array) num.Array {
	l.src = in
	l.queue.Call(num.MaxPoolFprop(l.src, l.dst, l.mask, l.Size, l.stride()))
	return l.dst
}

func (l *maxPool) Bprop(grad num.Array) num.Array {
	if l.dsrc == nil {
		return nil
	}
	l.queue.Call(num.MaxPoolBprop(grad, l.dsrc, l.mask))
	return l.dsrc
}

// activation layers
type activation struct {
	Activation
	layerBase
	activ func(x, y num.Array) num.Function
	deriv func(x, grad, dx num.Array) num.Function
}

func (l *activation) Init(q num.Queue, inShape []int, prev Layer) error {
	l.layerBase = newLayerBase(q, inShape, inShape, prev)
	return nil
}

func (l *activation) Fprop(in num.Array) num.Array {
	l.src = in
	l.queue.Call(l.activ(l.src, l.dst))
	return l.dst
}

func (l *activation) Bprop(grad num.Array) num.Array {
	if l.dsrc == nil {
		return nil
	}
	l.queue.Call(l.deriv(l.src, grad, l.dsrc))
	return l.dsrc
}

// cross neighborhood difference layer
type xnbhdDiff struct {
	XnbhdDiff
	layerBase
}

func (l *xnbhdDiff) OutShape(inShape []int) []int {
	shape, _ := num.XnbhdShape(inShape, l.Rows, l.Cols)
	return shape
}

func (l *xnbhdDiff) Init(q num.Queue, inShape []int, prev Layer) error {
	outShape, err := num.XnbhdShape(inShape, l.Rows, l.Cols)
	if err != nil {
		return err
	}
	l.layerBase = newLayerBase(q, inShape, outShape, prev)
	return nil
}

func (l *xnbhdDiff) Fprop(in num.Array) num.Array {
	l.src = in
	l.queue.Call(num.XnbhdDiff(l.src, l.dst, l.Rows, l.Cols))
	return l.dst
}

func (l *xnbhdDiff) Bprop(grad num.Array) num.Array {
	if l.dsrc == nil {
		return nil
	}
	l.queue.Call(num.XnbhdDiffGrad(grad, l.dsrc, l.Rows, l.Cols))
	return l.dsrc
}

type reinterpret struct {
	Reinterpret
	inShape []int
}

func (l *reinterpret) OutShape(inShape []int) []int {
	out := append([]int{}, inShape...)
	out[0] /= l.Factor
	out[1] *= l.Factor
	return out
}

func (l *reinterpret) Init(q num.Queue, inShape []int, prev Layer) error {
	if len(inShape) != 4 {
		return errors.Errorf("reinterpret: expect 4 dimensional input, got %v", inShape)
	}
	if l.Factor < 1 || inShape[0]%l.Factor != 0 {
		return errors.Errorf("reinterpret: sample count %d not divisible by %d", inShape[0], l.Factor)
	}
	l.inShape = inShape
	return nil
}

func (l *reinterpret) Fprop(in num.Array) num.Array {
	return in.Reshape(l.OutShape(in.Dims())...)
}

func (l *reinterpret) Bprop(grad num.Array) num.Array {
	if grad == nil {
		return nil
	}
	return grad.Reshape(l.inShape...)
}

// log regression output layer
type logRegression struct {
	layerBase
	loss num.Array
}

func (l *logRegression) ToString() string { return "logRegression" }

func (l *logRegression) Init(q num.Queue, inShape []int, prev Layer) error {
	if len(inShape) != 2 {
		return errors.Errorf("logRegression: expect 2 dimensional input, got %v", inShape)
	}
	l.layerBase = newLayerBase(q, inShape, inShape, prev)
	l.loss = q.NewArray(inShape[0])
	return nil
}

func (l *logRegression) Fprop(in num.Array) num.Array {
	l.src = in
	l.queue.Call(num.Softmax(l.src, l.dst))
	return l.dst
}

// Bprop expects the gradient of the combined softmax and log loss, i.e. yPred - yOneHot.
func (l *logRegression) Bprop(grad num.Array) num.Array {
	l.queue.Call(num.Copy(l.dsrc, grad))
	return l.dsrc
}

func (l *logRegression) Loss(yOneHot, yPred num.Array) num.Array {
	l.queue.Call(num.SoftmaxLoss(yOneHot, yPred, l.loss))
	return l.loss
}

type flatten struct {
	inShape []int
}

func (l *flatten) ToString() string { return "flatten" }

func (l *flatten) OutShape(inShape []int) []int {
	return []int{inShape[0], num.Prod(inShape[1:])}
}

func (l *flatten) Init(q num.Queue, inShape []int, prev Layer) error {
	l.inShape = inShape
	return nil
}

func (l *flatten) Fprop(in num.Array) num.Array {
	return in.Reshape(in.Dims()[0], -1)
}

func (l *flatten) Bprop(grad num.Array) num.Array {
	if grad == nil {
		return nil
	}
	return grad.Reshape(l.inShape...)
}

// base layer type, dsrc is not allocated for the first layer as the input gradient is not needed
type layerBase struct {
	queue num.Queue
	src   num.Array
	dst   num.Array
	dsrc  num.Array
}

func newLayerBase(q num.Queue, inShape, outShape []int, prev Layer) layerBase {
	l := layerBase{queue: q, dst: q.NewArray(outShape...)}
	if prev != nil {
		l.dsrc = q.NewArray(inShape...)
	}
	return l
}

func (l layerBase) OutShape(inShape []int) []int { return inShape }

// weight and bias parameters with momentum
type paramBase struct {
	pq     num.Queue
	w, b   num.Array
	dw, db num.Array
	vw, vb num.Array
	nIn    int
}

func newParams(q num.Queue, wShape, bShape []int, nIn int) paramBase {
	return paramBase{
		pq:  q,
		w:   q.NewArray(wShape...),
		b:   q.NewArray(bShape...),
		dw:  q.NewArray(wShape...),
		db:  q.NewArray(bShape...),
		vw:  q.NewArray(wShape...),
		vb:  q.NewArray(bShape...),
		nIn: nIn,
	}
}

func (p paramBase) Params() (W, B num.Array) {
	return p.w, p.b
}

func (p paramBase) ParamGrads() (dW, dB num.Array) {
	return p.dw, p.db
}

// InitParams sets the weights from a uniform or normal distribution scaled by 1/sqrt(fan in).
func (p paramBase) InitParams(rng *rand.Rand, bias float32, normal bool) {
	scale := float32(1 / math.Sqrt(float64(p.nIn)))
	weights := make([]float32, p.w.Size())
	for i := range weights {
		if normal {
			weights[i] = float32(rng.NormFloat64()) * scale
		} else {
			weights[i] = (2*rng.Float32() - 1) * scale
		}
	}
	p.pq.Call(
		num.Write(p.w, weights),
		num.Fill(p.b, bias),
		num.Fill(p.vw, 0),
		num.Fill(p.vb, 0),
	)
}

func (p paramBase) SetParams(W, B num.Array) {
	p.pq.Call(num.Copy(p.w, W), num.Copy(p.b, B))
}

// UpdateParams applies one SGD step with momentum. The gradients are summed over the batch, so the
// caller divides the learning rate and multiplies the weight decay by the batch size.
func (p paramBase) UpdateParams(learningRate, weightDecay, momentum float32) {
	if weightDecay != 0 {
		p.pq.Call(num.Axpy(weightDecay, p.w, p.dw))
	}
	p.pq.Call(
		num.Scale(momentum, p.vw),
		num.Axpy(-learningRate, p.dw, p.vw),
		num.Axpy(1, p.vw, p.w),
		num.Scale(momentum, p.vb),
		num.Axpy(-learningRate, p.db, p.vb),
		num.Axpy(1, p.vb, p.b),
	)
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
