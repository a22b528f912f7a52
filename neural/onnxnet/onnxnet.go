// Package onnxnet runs the evaluator from an ONNX weights file. The model
// is expected to take a single plane tensor per position and produce a
// policy head, a wdl head and a moves-left head.
package onnxnet

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/owulveryck/onnx-go"
	"github.com/owulveryck/onnx-go/backend/x/gorgonnx"
	"github.com/rs/zerolog/log"
	"gorgonia.org/tensor"

	"github.com/condorchess/condor/neural"
)

// Shape of the plane input. One flat channel axis; the encoder decides what
// goes into it.
const (
	NumPlanes  = 112
	PlaneH     = 8
	PlaneW     = 8
	InputLen   = NumPlanes * PlaneH * PlaneW
	PolicyLen  = 64*64 + 64*3
	wdlLen     = 3
)

// ModelTemplate holds the raw ONNX model bytes. Building a graph instance
// per computation keeps concurrent batches independent.
type ModelTemplate struct {
	data []byte
}

// LoadModel reads the weights file.
func LoadModel(path string) (*ModelTemplate, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ONNX model: %w", err)
	}
	log.Debug().Str("path", path).Int("model-size", len(bytes)).
		Msg("loaded-onnx-model")
	return &ModelTemplate{data: bytes}, nil
}

type instance struct {
	backend *gorgonnx.Graph
	model   *onnx.Model
}

func (t *ModelTemplate) newInstance() (*instance, error) {
	start := time.Now()
	defer func() {
		log.Debug().Int64("onnx_model_init_ms", time.Since(start).Milliseconds()).
			Msg("onnx model instance created")
	}()
	backend := gorgonnx.NewGraph()
	model := onnx.NewModel(backend)
	if err := model.UnmarshalBinary(t.data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ONNX model: %w", err)
	}
	return &instance{backend: backend, model: model}, nil
}

// Network is the ONNX-backed evaluator.
type Network struct {
	template *ModelTemplate
}

func New(template *ModelTemplate) *Network {
	return &Network{template: template}
}

func (n *Network) NewComputation() neural.NetworkComputation {
	return &computation{template: n.template}
}

type computation struct {
	template *ModelTemplate

	inputs []neural.EncodedInput

	policy []float32
	wdl    []float32
	mlh    []float32
}

func (c *computation) AddInput(input neural.EncodedInput) {
	if len(input) != InputLen {
		panic(fmt.Sprintf("onnxnet: input length %d, want %d", len(input), InputLen))
	}
	c.inputs = append(c.inputs, input)
}

func (c *computation) BatchSize() int { return len(c.inputs) }

func (c *computation) ComputeBlocking() error {
	nbatch := len(c.inputs)
	if nbatch == 0 {
		return nil
	}
	backing := make([]float32, 0, nbatch*InputLen)
	for _, in := range c.inputs {
		backing = append(backing, in...)
	}

	inst, err := c.template.newInstance()
	if err != nil {
		return err
	}
	planes := tensor.New(tensor.WithShape(nbatch, NumPlanes, PlaneH, PlaneW),
		tensor.WithBacking(backing))
	inst.model.SetInput(0, planes)

	start := time.Now()
	if err := inst.backend.Run(); err != nil {
		return fmt.Errorf("failed to run ONNX model: %w", err)
	}
	output, err := inst.model.GetOutputTensors()
	if err != nil {
		return fmt.Errorf("failed to get output tensors: %w", err)
	}
	log.Debug().Int("batch", nbatch).
		Int64("onnx_infer_ms", time.Since(start).Milliseconds()).
		Msg("evaluated batch")

	if len(output) < 2 {
		return errors.New("onnxnet: model must have policy and wdl heads")
	}
	if c.policy, err = tensorData(output[0], nbatch*PolicyLen); err != nil {
		return fmt.Errorf("policy head: %w", err)
	}
	if c.wdl, err = tensorData(output[1], nbatch*wdlLen); err != nil {
		return fmt.Errorf("wdl head: %w", err)
	}
	if len(output) > 2 {
		if c.mlh, err = tensorData(output[2], nbatch); err != nil {
			return fmt.Errorf("mlh head: %w", err)
		}
	}
	return nil
}

func tensorData(t tensor.Tensor, want int) ([]float32, error) {
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("unexpected output type: %T", t.Data())
	}
	if len(data) != want {
		return nil, fmt.Errorf("output length %d, want %d", len(data), want)
	}
	return data, nil
}

func (c *computation) Q(idx int) float32 {
	w := c.wdl[idx*wdlLen]
	l := c.wdl[idx*wdlLen+2]
	return w - l
}

func (c *computation) D(idx int) float32 {
	return c.wdl[idx*wdlLen+1]
}

func (c *computation) M(idx int) float32 {
	if c.mlh == nil {
		return 0
	}
	return c.mlh[idx]
}

func (c *computation) E(idx int) float32 { return 0 }

func (c *computation) P(idx int, nnIndex int) float32 {
	return c.policy[idx*PolicyLen+nnIndex]
}
