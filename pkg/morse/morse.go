// Package morse holds the static CW lookup tables: character to
// representation, representation to character, and the phonetic alphabet.
// Representations use only '.' and '-' and are at most seven marks long.
package morse

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrNotFound reports a character or representation missing from the table.
var ErrNotFound = errors.New("morse: not found")

// MaxRepresentationLength is the longest representation in the table.
const MaxRepresentationLength = 7

// characterTable maps each supported character to its representation.
var characterTable = map[rune]string{
	// Letters
	'A': ".-", 'B': "-...", 'C': "-.-.", 'D': "-..", 'E': ".",
	'F': "..-.", 'G': "--.", 'H': "....", 'I': "..", 'J': ".---",
	'K': "-.-", 'L': ".-..", 'M': "--", 'N': "-.", 'O': "---",
	'P': ".--.", 'Q': "--.-", 'R': ".-.", 'S': "...", 'T': "-",
	'U': "..-", 'V': "...-", 'W': ".--", 'X': "-..-", 'Y': "-.--",
	'Z': "--..",

	// Numerals
	'0': "-----", '1': ".----", '2': "..---", '3': "...--", '4': "....-",
	'5': ".....", '6': "-....", '7': "--...", '8': "---..", '9': "----.",

	// Punctuation
	'"': ".-..-.", '\'': ".----.", '$': "...-..-", '(': "-.--.",
	')': "-.--.-", '+': ".-.-.", ',': "--..--", '-': "-....-",
	'.': ".-.-.-", '/': "-..-.", ':': "---...", ';': "-.-.-.",
	'=': "-...-", '?': "..--..", '_': "..--.-", '@': ".--.-.",

	// Accented characters
	'Ü': "..--", 'Ä': ".-.-", 'Ç': "-.-..", 'Ö': "---.",
	'É': "..-..", 'È': ".-..-", 'À': ".--.-", 'Ñ': "--.--",

	// Procedural signal shorthands
	'<': "...-.-",  // VA/SK, end of work
	'>': "-...-.-", // BK, break
	'!': "...-.",   // SN, understood
	'&': ".-...",   // AS, wait
	'^': "-.-.-",   // KA, starting signal
	'~': ".-.-..",  // AL, paragraph
}

// representationTable is the reverse mapping, built once at init.
var representationTable = make(map[string]rune, len(characterTable))

func init() {
	for c, representation := range characterTable {
		representationTable[representation] = c
	}
}

// CharacterCount returns the number of characters in the table.
func CharacterCount() int {
	return len(characterTable)
}

// Characters returns every character known to the table, as a string.
func Characters() string {
	var b strings.Builder
	for c := range characterTable {
		b.WriteRune(c)
	}
	return b.String()
}

// CharacterToRepresentation converts a character to its dot/dash
// representation. Lookup is case-insensitive. Unknown characters fail
// with ErrNotFound.
func CharacterToRepresentation(c rune) (string, error) {
	if representation, ok := characterTable[unicode.ToUpper(c)]; ok {
		return representation, nil
	}
	return "", fmt.Errorf("%w: character %q", ErrNotFound, c)
}

// RepresentationToCharacter converts a dot/dash representation back to
// its (upper case) character. Unknown representations fail with
// ErrNotFound.
func RepresentationToCharacter(representation string) (rune, error) {
	if c, ok := representationTable[representation]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("%w: representation %q", ErrNotFound, representation)
}

// IsValidRepresentation reports whether the string contains only dots
// and dashes and is short enough to be looked up.
func IsValidRepresentation(representation string) bool {
	if len(representation) == 0 || len(representation) > MaxRepresentationLength {
		return false
	}
	for _, m := range representation {
		if m != '.' && m != '-' {
			return false
		}
	}
	return true
}

// phonetics is the NATO phonetic alphabet, indexed by letter A-Z.
var phonetics = [...]string{
	"Alfa", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot", "Golf",
	"Hotel", "India", "Juliett", "Kilo", "Lima", "Mike", "November",
	"Oscar", "Papa", "Quebec", "Romeo", "Sierra", "Tango", "Uniform",
	"Victor", "Whiskey", "X-ray", "Yankee", "Zulu",
}

// Phonetic returns the phonetic word for a letter, case-insensitively.
// Non-letters fail with ErrNotFound.
func Phonetic(c rune) (string, error) {
	c = unicode.ToUpper(c)
	if c < 'A' || c > 'Z' {
		return "", fmt.Errorf("%w: no phonetic for %q", ErrNotFound, c)
	}
	return phonetics[c-'A'], nil
}
