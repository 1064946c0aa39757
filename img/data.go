package img

import (
	"runtime"
	"sync"

	"github.com/ptran/idla-person-reid/stats"
	log "github.com/sirupsen/logrus"
)

// ColorStats calculates the per channel mean and stddev over a set of images.
// Each worker accumulates its own averages which are merged at the end.
func ColorStats(images []*Image) (mean, std [3]float32) {
	if len(images) == 0 {
		return mean, std
	}
	threads := runtime.GOMAXPROCS(0)
	partial := make([][3]stats.Average, threads)
	var wg sync.WaitGroup
	for thread := 0; thread < threads; thread++ {
		wg.Add(1)
		go func(thread int) {
			for i := thread; i < len(images); i += threads {
				for ch := 0; ch < 3; ch++ {
					partial[thread][ch].AddSlice(images[i].Pixels(ch))
				}
			}
			wg.Done()
		}(thread)
	}
	wg.Wait()
	var total [3]stats.Average
	for _, p := range partial {
		for ch := range total {
			total[ch].Merge(p[ch])
		}
	}
	for ch, s := range total {
		mean[ch] = float32(s.Mean)
		std[ch] = float32(s.StdDev)
	}
	log.WithFields(log.Fields{"images": len(images), "mean": mean, "stddev": std}).Info("color stats")
	return mean, std
}
