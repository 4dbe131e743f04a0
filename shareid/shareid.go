// Package shareid kodiert numerische Post-IDs reversibel in kurze,
// nicht-sequentielle Share-Codes für öffentliche URLs.
package shareid

import (
	"fmt"

	"github.com/sqids/sqids-go"
)

// Codec kodiert und dekodiert Post-IDs. Alphabet und Mindestlänge bestimmen
// die Codeform; dieselbe Konfiguration dekodiert ihre eigenen Codes stabil.
type Codec struct {
	s *sqids.Sqids
}

// New erstellt einen Codec. Das Alphabet muss mindestens 3 eindeutige Zeichen haben.
func New(alphabet string, minLength uint8) (*Codec, error) {
	s, err := sqids.New(sqids.Options{
		Alphabet:  alphabet,
		MinLength: minLength,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing share-id codec: %w", err)
	}
	return &Codec{s: s}, nil
}

// Encode wandelt eine Post-ID in einen Share-Code um.
func (c *Codec) Encode(id uint) (string, error) {
	return c.s.Encode([]uint64{uint64(id)})
}

// Decode wandelt einen Share-Code zurück in die Post-ID. Codes, die nicht aus
// diesem Codec stammen, ergeben einen Fehler.
func (c *Codec) Decode(code string) (uint, error) {
	nums := c.s.Decode(code)
	if len(nums) != 1 {
		return 0, fmt.Errorf("invalid share code %q", code)
	}
	// Roundtrip-Prüfung: Sqids dekodiert auch fremde Strings zu irgendeiner Zahl.
	enc, err := c.s.Encode(nums)
	if err != nil || enc != code {
		return 0, fmt.Errorf("invalid share code %q", code)
	}
	return uint(nums[0]), nil
}
