// Package detector implements the streaming ensemble-autoencoder anomaly
// detector (spec.md §4.4): a two-phase (CALIBRATE/TRAIN, then DETECT)
// streaming model with no example-pack precedent for the neural-net math
// itself (hand-rolled over stdlib `math`, per DESIGN.md's justification),
// but the atomic-persistence idiom (write-temp-then-rename) and the
// afero-backed filesystem follow the teacher's config/database write
// discipline.
package detector

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/spf13/afero"

	"github.com/netwatch/telemetry/features"
)

// Phase is the detector's lifecycle stage.
type Phase string

const (
	PhaseCalibrate Phase = "CALIBRATE"
	PhaseTrain     Phase = "TRAIN"
	PhaseDetect    Phase = "DETECT"
)

// Config governs the detector's phase transitions and persistence.
type Config struct {
	TrainingSamples int     // default 1000 (documented production target: 10000)
	AlertThreshold  float64 // default 0.95; the Escalator, not the detector, applies this
	ModelPath       string
}

// autoencoder is one small tanh autoencoder over a subset of input features.
type autoencoder struct {
	InputIdx []int
	Hidden   int
	W1       [][]float64 // hidden x |InputIdx|
	B1       []float64
	W2       [][]float64 // |InputIdx| x hidden
	B2       []float64
}

func newAutoencoder(inputIdx []int, rng *rand.Rand) *autoencoder {
	n := len(inputIdx)
	h := n / 2
	if h < 1 {
		h = 1
	}
	ae := &autoencoder{
		InputIdx: inputIdx,
		Hidden:   h,
		W1:       make([][]float64, h),
		B1:       make([]float64, h),
		W2:       make([][]float64, n),
		B2:       make([]float64, n),
	}
	for j := 0; j < h; j++ {
		ae.W1[j] = make([]float64, n)
		for i := range ae.W1[j] {
			ae.W1[j][i] = rng.NormFloat64() * 0.1
		}
	}
	for i := 0; i < n; i++ {
		ae.W2[i] = make([]float64, h)
		for j := range ae.W2[i] {
			ae.W2[i][j] = rng.NormFloat64() * 0.1
		}
	}
	return ae
}

// slice extracts this autoencoder's input subset from a full standardized
// feature vector.
func (ae *autoencoder) slice(x []float64) []float64 {
	sub := make([]float64, len(ae.InputIdx))
	for k, idx := range ae.InputIdx {
		sub[k] = x[idx]
	}
	return sub
}

// forward runs the encoder/decoder and returns the hidden activation, the
// reconstruction, and the MSE loss against the input slice.
func (ae *autoencoder) forward(x []float64) (hOut, oOut []float64, mse float64) {
	hOut = make([]float64, ae.Hidden)
	for j := 0; j < ae.Hidden; j++ {
		sum := ae.B1[j]
		for i, xi := range x {
			sum += ae.W1[j][i] * xi
		}
		hOut[j] = math.Tanh(sum)
	}
	oOut = make([]float64, len(x))
	for i := range x {
		sum := ae.B2[i]
		for j, hj := range hOut {
			sum += ae.W2[i][j] * hj
		}
		oOut[i] = math.Tanh(sum)
		diff := oOut[i] - x[i]
		mse += diff * diff
	}
	if len(x) > 0 {
		mse /= float64(len(x))
	}
	return hOut, oOut, mse
}

// trainStep performs one gradient-descent step of MSE reconstruction loss and
// returns the pre-update loss.
func (ae *autoencoder) trainStep(x []float64, lr float64) float64 {
	hOut, oOut, mse := ae.forward(x)
	n := len(x)

	doIn := make([]float64, n)
	for i := 0; i < n; i++ {
		dLdo := 2.0 / float64(n) * (oOut[i] - x[i])
		doIn[i] = dLdo * (1 - oOut[i]*oOut[i])
	}

	dhOut := make([]float64, ae.Hidden)
	for j := 0; j < ae.Hidden; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += doIn[i] * ae.W2[i][j]
		}
		dhOut[j] = sum
	}
	dhIn := make([]float64, ae.Hidden)
	for j, dh := range dhOut {
		dhIn[j] = dh * (1 - hOut[j]*hOut[j])
	}

	for i := 0; i < n; i++ {
		for j := 0; j < ae.Hidden; j++ {
			ae.W2[i][j] -= lr * doIn[i] * hOut[j]
		}
		ae.B2[i] -= lr * doIn[i]
	}
	for j := 0; j < ae.Hidden; j++ {
		for i := 0; i < n; i++ {
			ae.W1[j][i] -= lr * dhIn[j] * x[i]
		}
		ae.B1[j] -= lr * dhIn[j]
	}

	return mse
}

const learningRate = 0.01

// modelBlob is the serialized on-disk shape (feature map, per-autoencoder
// weights/biases, standardizer state, training-sample count, threshold).
type modelBlob struct {
	Dimension       int
	Autoencoders    []*autoencoder
	StdMean         []float64
	StdM2           []float64
	StdN            int64
	TrainingSamples int
	AlertThreshold  float64
}

// Detector owns the full CALIBRATE -> TRAIN -> DETECT state machine for one
// feature-vector stream. It is not safe for concurrent use; the owning task
// must serialize calls to Process.
type Detector struct {
	cfg   Config
	fs    afero.Fs
	rng   *rand.Rand

	phase        Phase
	dimension    int
	autoencoders []*autoencoder
	std          *features.Standardizer
	trainCount   int
	recentScores []float64

	lastTrainLoss float64
}

const recentScoreCap = 1000

// New constructs a Detector. If cfg.ModelPath names an existing, loadable
// model file on fs, the detector loads it and starts directly in DETECT;
// otherwise it starts in CALIBRATE.
func New(cfg Config, fs afero.Fs) *Detector {
	d := &Detector{
		cfg:   cfg,
		fs:    fs,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		phase: PhaseCalibrate,
	}
	if cfg.ModelPath != "" {
		if err := d.loadModel(); err == nil {
			d.phase = PhaseDetect
		}
	}
	return d
}

// Phase reports the detector's current lifecycle stage.
func (d *Detector) Phase() Phase { return d.phase }

// Dimension reports D, fixed on first event (0 before the first event).
func (d *Detector) Dimension() int { return d.dimension }

// Process feeds one feature vector through the detector and returns a score
// in [0,1]. During CALIBRATE/TRAIN the score follows the bounded training
// contract (min(avg_loss/10, 1)); during DETECT it is the normalized
// ensemble-max reconstruction error.
func (d *Detector) Process(ctx context.Context, vec []float64) (float64, error) {
	switch d.phase {
	case PhaseCalibrate:
		return d.calibrate(ctx, vec)
	case PhaseTrain:
		return d.train(ctx, vec)
	case PhaseDetect:
		return d.detect(vec), nil
	default:
		return 0, fmt.Errorf("detector: unknown phase %q", d.phase)
	}
}

// calibrate runs once, on the first event: it fixes D, partitions feature
// indices into overlapping groups, assigns one autoencoder per group, and
// creates the standardizer. The same event is then fed to train as the first
// training sample, which seeds the standardizer. The feature map never
// mutates again after TRAIN entry (spec.md §3 Detector State invariant).
func (d *Detector) calibrate(ctx context.Context, vec []float64) (float64, error) {
	d.dimension = len(vec)
	d.autoencoders = buildFeatureGroups(d.dimension, d.rng)
	d.std = features.NewStandardizer(d.dimension)
	d.phase = PhaseTrain
	return d.train(ctx, vec)
}

// buildFeatureGroups partitions [0,D) into overlapping groups of size
// G = max(3, D/3) with stride G/2; every group has size >= 2.
func buildFeatureGroups(dim int, rng *rand.Rand) []*autoencoder {
	g := dim / 3
	if g < 3 {
		g = 3
	}
	if g > dim {
		g = dim
	}
	stride := g / 2
	if stride < 1 {
		stride = 1
	}

	var groups [][]int
	for start := 0; start < dim; start += stride {
		end := start + g
		if end > dim {
			end = dim
		}
		if end-start < 2 {
			if len(groups) > 0 {
				// merge a too-small tail group into the previous one instead
				// of assigning a degenerate single-feature autoencoder.
				last := groups[len(groups)-1]
				for idx := start; idx < end; idx++ {
					last = append(last, idx)
				}
				groups[len(groups)-1] = dedupeInts(last)
			}
			break
		}
		group := make([]int, 0, end-start)
		for idx := start; idx < end; idx++ {
			group = append(group, idx)
		}
		groups = append(groups, group)
		if end == dim {
			break
		}
	}
	if len(groups) == 0 {
		all := make([]int, dim)
		for i := range all {
			all[i] = i
		}
		groups = [][]int{all}
	}

	autoencoders := make([]*autoencoder, len(groups))
	for i, grp := range groups {
		autoencoders[i] = newAutoencoder(grp, rng)
	}
	return autoencoders
}

func dedupeInts(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// train accumulates one gradient step per autoencoder on its slice of the
// standardized vector. When the training-sample counter reaches
// cfg.TrainingSamples, the model is persisted and the detector transitions
// to DETECT.
func (d *Detector) train(ctx context.Context, vec []float64) (float64, error) {
	d.std.Update(vec)
	x := d.std.Standardize(vec)

	var totalLoss float64
	for _, ae := range d.autoencoders {
		sub := ae.slice(x)
		totalLoss += ae.trainStep(sub, learningRate)
	}
	avgLoss := totalLoss / float64(len(d.autoencoders))
	d.lastTrainLoss = avgLoss

	d.trainCount++
	if d.trainCount >= d.cfg.TrainingSamples {
		if err := d.persist(ctx); err != nil {
			return 0, fmt.Errorf("detector: persisting model at TRAIN->DETECT transition: %w", err)
		}
		d.phase = PhaseDetect
	}

	score := avgLoss / 10
	if score > 1 {
		score = 1
	}
	return score, nil
}

// detect computes the ensemble-max reconstruction MSE, normalizes it, and
// appends it to the bounded recent-score window.
func (d *Detector) detect(vec []float64) float64 {
	x := d.std.Standardize(vec)

	var maxMSE float64
	for _, ae := range d.autoencoders {
		sub := ae.slice(x)
		_, _, mse := ae.forward(sub)
		if mse > maxMSE {
			maxMSE = mse
		}
	}
	score := maxMSE / 5
	if score > 1 {
		score = 1
	}
	d.recentScores = append(d.recentScores, score)
	if len(d.recentScores) > recentScoreCap {
		d.recentScores = d.recentScores[len(d.recentScores)-recentScoreCap:]
	}
	return score
}

// RecentScores returns a copy of the bounded recent-score window (last 1000
// DETECT-phase scores), used by /api/kitnet-stats.
func (d *Detector) RecentScores() []float64 {
	out := make([]float64, len(d.recentScores))
	copy(out, d.recentScores)
	return out
}

// TrainCount reports the number of TRAIN-phase samples consumed so far.
func (d *Detector) TrainCount() int { return d.trainCount }

// persist atomically writes the model blob to cfg.ModelPath: write to a
// temp file in the same directory, then rename, so a crash mid-write never
// leaves a truncated model on disk.
func (d *Detector) persist(_ context.Context) error {
	blob := modelBlob{
		Dimension:       d.dimension,
		Autoencoders:    d.autoencoders,
		StdMean:         d.std.MeanSnapshot(),
		StdM2:           d.std.M2Snapshot(),
		StdN:            d.std.NSnapshot(),
		TrainingSamples: d.trainCount,
		AlertThreshold:  d.cfg.AlertThreshold,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(blob); err != nil {
		return err
	}
	tmpPath := d.cfg.ModelPath + ".tmp"
	if err := afero.WriteFile(d.fs, tmpPath, buf.Bytes(), 0o600); err != nil {
		return err
	}
	return d.fs.Rename(tmpPath, d.cfg.ModelPath)
}

func (d *Detector) loadModel() error {
	raw, err := afero.ReadFile(d.fs, d.cfg.ModelPath)
	if err != nil {
		return err
	}
	var blob modelBlob
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&blob); err != nil {
		return err
	}
	d.dimension = blob.Dimension
	d.autoencoders = blob.Autoencoders
	d.std = features.NewStandardizer(blob.Dimension)
	d.std.Restore(blob.StdMean, blob.StdM2, blob.StdN)
	d.trainCount = blob.TrainingSamples
	return nil
}
