package profile

import "github.com/gigfork/kahlua2/sampler"

// Tee is a Sink that hands every sample to each of its sinks in order.
type Tee []sampler.Sink

func (t Tee) ReceiveSample(s sampler.Sample) {
	for _, sink := range t {
		sink.ReceiveSample(s)
	}
}
