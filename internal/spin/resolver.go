// Package spin は当選項目と停止角度を決める。
package spin

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
)

// DefaultExtraTurns は停止位置に加える空回りの周回数。
const DefaultExtraTurns = 6

const fullTurn = 360.0

var (
	ErrEmptyWheel    = errors.New("wheel has no slices")
	ErrUnknownWinner = errors.New("winner is not on the wheel")
	errInvalidRange  = errors.New("invalid random range")
)

// Result はスピンの決定結果。EndAngle は絶対角度で、呼び出し側の現在角度より小さくならない。
type Result struct {
	WinnerIndex int
	Winner      string
	EndAngle    float64
}

// Resolver picks a winner and computes the final rotation.
type Resolver struct {
	ExtraTurns int
	// RandomInt returns a uniform integer in [0, max). crypto/rand when nil.
	RandomInt func(max int) (int, error)
}

func NewResolver(extraTurns int) *Resolver {
	if extraTurns < 0 {
		extraTurns = 0
	}
	return &Resolver{ExtraTurns: extraTurns}
}

// Resolve picks the winner (forcedWinner first, otherwise uniform random)
// and returns the absolute angle at which the winner sits under the pointer.
func (r *Resolver) Resolve(slices []string, forcedWinner *string, currentAngle float64) (Result, error) {
	if len(slices) == 0 {
		return Result{}, ErrEmptyWheel
	}

	idx := -1
	if forcedWinner != nil {
		idx = FindSlice(slices, *forcedWinner)
	}
	if idx < 0 {
		picked, err := r.randomInt()(len(slices))
		if err != nil {
			return Result{}, fmt.Errorf("failed to pick random slice: %w", err)
		}
		if picked < 0 || picked >= len(slices) {
			return Result{}, errInvalidRange
		}
		idx = picked
	}

	delta := rotation(len(slices), idx, currentAngle, r.ExtraTurns)
	if delta <= 0 {
		// ExtraTurns=0 で既に当選位置にいる場合も必ず一周させる
		delta = fullTurn
	}
	return Result{
		WinnerIndex: idx,
		Winner:      slices[idx],
		EndAngle:    currentAngle + delta,
	}, nil
}

// Snap returns the shortest forward rotation that puts winner under the pointer.
// Late observers use it instead of replaying the full spin.
func (r *Resolver) Snap(slices []string, winner string, currentAngle float64) (Result, error) {
	if len(slices) == 0 {
		return Result{}, ErrEmptyWheel
	}
	idx := FindSlice(slices, winner)
	if idx < 0 {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownWinner, winner)
	}
	return Result{
		WinnerIndex: idx,
		Winner:      slices[idx],
		EndAngle:    currentAngle + rotation(len(slices), idx, currentAngle, 0),
	}, nil
}

// FindSlice は前後空白を除き大文字小文字を無視して最初に一致した位置を返す。なければ -1。
func FindSlice(slices []string, label string) int {
	label = strings.TrimSpace(label)
	if label == "" {
		return -1
	}
	for i, s := range slices {
		if strings.EqualFold(strings.TrimSpace(s), label) {
			return i
		}
	}
	return -1
}

// IndexAt returns the slice under the pointer when the wheel is rotated by angle.
func IndexAt(n int, angle float64) int {
	if n <= 0 {
		return -1
	}
	step := fullTurn / float64(n)
	pos := Normalize(fullTurn - Normalize(angle))
	idx := int(math.Floor(pos / step))
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// Normalize maps angle to [0, 360).
func Normalize(angle float64) float64 {
	a := math.Mod(angle, fullTurn)
	if a < 0 {
		a += fullTurn
	}
	return a
}

func rotation(n, idx int, currentAngle float64, extraTurns int) float64 {
	step := fullTurn / float64(n)
	desired := Normalize(fullTurn - (float64(idx)*step + step/2))
	delta := Normalize(desired - Normalize(currentAngle))
	return delta + fullTurn*float64(extraTurns)
}

func (r *Resolver) randomInt() func(int) (int, error) {
	if r.RandomInt != nil {
		return r.RandomInt
	}
	return secureRandomInt
}

func secureRandomInt(max int) (int, error) {
	if max <= 0 {
		return 0, errInvalidRange
	}

	n, err := crand.Int(crand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
