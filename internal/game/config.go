package game

// WorldConfig is fixed when a world is created. Changing the seed means
// creating a new world.
type WorldConfig struct {
	Seed             int64   `json:"seed"`
	TreeSpawnRate    float64 `json:"treeSpawnRate"`
	PokemonSpawnRate float64 `json:"pokemonSpawnRate"`
}

// NewWorldConfig returns the configuration for a new world.
func NewWorldConfig(seed int64, treeRate, pokemonRate float64) WorldConfig {
	return WorldConfig{
		Seed:             seed,
		TreeSpawnRate:    treeRate,
		PokemonSpawnRate: pokemonRate,
	}
}
