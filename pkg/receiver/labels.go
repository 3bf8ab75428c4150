package receiver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Card labels are a three digit code: suit hundreds plus the card value,
// e.g. 101 for the ace of hearts or 313 for the king of clubs.
var (
	suitValues = map[string]int{"hearts": 100, "diamonds": 200, "clubs": 300, "spades": 400}
	cardValues = map[string]int{
		"7": 7, "8": 8, "9": 9, "10": 10,
		"jack": 11, "queen": 12, "king": 13, "ace": 1,
	}
)

var (
	// ErrBadLabel is returned for a card name or code outside the deck.
	ErrBadLabel = errors.New("receiver: unknown card label")

	// ErrAlreadyLabeled is returned when an image already has a label.
	ErrAlreadyLabeled = errors.New("receiver: image already labeled")
)

// CardCode converts "hearts-ace", "ace of hearts" or a code such as "101"
// to the canonical code.
func CardCode(label string) (string, error) {
	label = strings.ToLower(strings.TrimSpace(label))

	if n, err := strconv.Atoi(label); err == nil {
		suit, card := n/100*100, n%100
		for _, s := range suitValues {
			if s != suit {
				continue
			}
			for _, c := range cardValues {
				if c == card {
					return fmt.Sprintf("%03d", n), nil
				}
			}
		}
		return "", fmt.Errorf("%w: %q", ErrBadLabel, label)
	}

	var suit, card string
	switch {
	case strings.Contains(label, " of "):
		card, suit, _ = strings.Cut(label, " of ")
	case strings.Contains(label, "-"):
		suit, card, _ = strings.Cut(label, "-")
	default:
		return "", fmt.Errorf("%w: %q", ErrBadLabel, label)
	}
	sv, ok1 := suitValues[suit]
	cv, ok2 := cardValues[card]
	if !ok1 || !ok2 {
		return "", fmt.Errorf("%w: %q", ErrBadLabel, label)
	}
	return fmt.Sprintf("%03d", sv+cv), nil
}

// Labels persists image labels to a JSON object keyed by file name.
type Labels struct {
	path string
	mu   sync.Mutex
}

// NewLabels returns a label file at path. The file is created on first use.
func NewLabels(path string) *Labels {
	return &Labels{path: path}
}

// Path returns the label file path.
func (l *Labels) Path() string {
	return l.path
}

func (l *Labels) load() (map[string]string, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("receiver: labels file: %w", err)
	}
	return m, nil
}

// Set labels image with the card code for label. An image keeps its first
// label.
func (l *Labels) Set(image, label string) (string, error) {
	code, err := CardCode(label)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.load()
	if err != nil {
		return "", err
	}
	if _, ok := m[image]; ok {
		return "", fmt.Errorf("%w: %s", ErrAlreadyLabeled, image)
	}
	m[image] = code

	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return "", fmt.Errorf("receiver: write labels: %w", err)
	}
	return code, nil
}

// All returns every label.
func (l *Labels) All() (map[string]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}
