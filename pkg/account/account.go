package account

// Player links an in-game identity to a web account. A player record is
// created by the game bridge when the player requests an auth code; the web
// side later claims it with that code by attaching an email and password.
type Player struct {
	UUID     string `json:"uuid"`
	Email    string `json:"email,omitempty"`
	PassHash string `json:"passHash,omitempty"` // bcrypt
	Code     string `json:"code,omitempty"`     // pending registration code
	Expires  int64  `json:"expires,omitempty"`  // code expiry, unix ms
}

// Registered reports whether the player has claimed a web account.
func (p *Player) Registered() bool { return p.Email != "" }

// Store is the persistence boundary for player records. Lookups return nil
// (not an error) when no record exists. SavePlayer maintains the code and
// email lookup indexes.
type Store interface {
	PlayerByUUID(uuid string) (*Player, error)
	PlayerByCode(code string) (*Player, error)
	PlayerByEmail(email string) (*Player, error)
	SavePlayer(p *Player) error
}
