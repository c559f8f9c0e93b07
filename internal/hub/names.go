package hub

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
)

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "blue", "red", "green", "bright", "gentle",
	"brave", "calm", "swift", "silent", "noisy", "bouncy", "fuzzy", "plucky", "merry", "peppy",
}

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"chick", "duckling", "fawn", "foal", "lamb", "calf", "porcupine", "raccoon", "skunk", "mole",
	"mouse", "rat", "ferret", "weasel", "beaver", "seahorse", "starfish", "dolphin", "whale", "narwhal",
	"penguin", "flamingo", "pelican", "swallow", "sparrow", "robin", "toucan", "parrot", "canary", "cockatoo",
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(n int) int {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		slog.Error("random index", "error", err)
		return 0
	}
	return int(i.Int64())
}

func title(s string) string {
	return strings.ToUpper(s[:1]) + s[1:]
}

// generateName picks an "Adjective Animal" display name not yet used in
// taken. Once a scope is crowded a numeric suffix keeps names distinct.
func generateName(taken map[string]bool) string {
	for attempt := 0; attempt < 32; attempt++ {
		name := title(adjectives[randomIndex(len(adjectives))]) + " " + title(animals[randomIndex(len(animals))])
		if !taken[name] {
			return name
		}
	}
	base := title(adjectives[randomIndex(len(adjectives))]) + " " + title(animals[randomIndex(len(animals))])
	for i := 2; ; i++ {
		name := fmt.Sprintf("%s %d", base, i)
		if !taken[name] {
			return name
		}
	}
}
