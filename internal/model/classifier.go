// Package model wraps a serialized feed-forward network behind a small
// inference API: given a normalized image tensor, return the predicted
// class label and its probability.
package model

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/agrinova/apiserver/internal/vision"
)

// ErrUnavailable is returned by every Classify call when the model
// artifact could not be loaded. The condition is permanent for the
// process lifetime; there is no reload.
var ErrUnavailable = errors.New("model not loaded")

// Artifact is the on-disk gob layout of a trained network.
type Artifact struct {
	Classes []string
	Layers  []Layer
}

// Layer holds the weights and bias of one dense layer, weights indexed
// [output][input].
type Layer struct {
	Weights [][]float32
	Bias    []float32
}

// Network is a loaded classifier. It is read-only after construction
// and safe for concurrent use.
type Network struct {
	classes []string
	layers  []Layer
}

// Load reads and validates a network artifact from disk.
func Load(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model artifact: %w", err)
	}
	defer f.Close()

	var artifact Artifact
	if err := gob.NewDecoder(f).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	return New(artifact)
}

// New validates an artifact and constructs a Network from it.
func New(artifact Artifact) (*Network, error) {
	if len(artifact.Classes) == 0 {
		return nil, errors.New("model artifact has no classes")
	}
	if len(artifact.Layers) == 0 {
		return nil, errors.New("model artifact has no layers")
	}

	inputSize := vision.TargetSize * vision.TargetSize * vision.Channels
	for i, layer := range artifact.Layers {
		if len(layer.Weights) == 0 || len(layer.Weights) != len(layer.Bias) {
			return nil, fmt.Errorf("layer %d: weight/bias size mismatch", i)
		}
		for _, row := range layer.Weights {
			if len(row) != inputSize {
				return nil, fmt.Errorf("layer %d: expected input size %d, got %d", i, inputSize, len(row))
			}
		}
		inputSize = len(layer.Weights)
	}
	if inputSize != len(artifact.Classes) {
		return nil, fmt.Errorf("output size %d does not match %d classes", inputSize, len(artifact.Classes))
	}

	return &Network{classes: artifact.Classes, layers: artifact.Layers}, nil
}

// Classes returns the fixed, ordered class list.
func (n *Network) Classes() []string {
	return n.classes
}

// Ready reports that the network is loaded and can serve inferences.
func (n *Network) Ready() bool {
	return true
}

// Classify runs a forward pass over the tensor. The label is the argmax
// of the softmax output; the confidence is the maximum probability.
func (n *Network) Classify(t vision.Tensor) (string, float64, error) {
	in := t.Data
	if len(in) != len(n.layers[0].Weights[0]) {
		return "", 0, fmt.Errorf("expected input of size %d, got %d", len(n.layers[0].Weights[0]), len(in))
	}

	for i, layer := range n.layers {
		out := make([]float32, len(layer.Weights))
		for j, row := range layer.Weights {
			sum := layer.Bias[j]
			for k, w := range row {
				sum += w * in[k]
			}
			if i < len(n.layers)-1 && sum < 0 {
				sum = 0 // ReLU on hidden layers
			}
			out[j] = sum
		}
		in = out
	}

	probs := softmax(in)
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return n.classes[best], probs[best], nil
}

func softmax(logits []float32) []float64 {
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v - max))
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Unavailable is the classifier installed when the artifact failed to
// load at startup.
type Unavailable struct{}

func (Unavailable) Classify(vision.Tensor) (string, float64, error) {
	return "", 0, ErrUnavailable
}

// Ready reports that no model is loaded.
func (Unavailable) Ready() bool {
	return false
}
