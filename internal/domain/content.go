package domain

// Content entities served by the game data API and cached locally.

type Item struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Rarity      string            `json:"rarity"`
	Category    string            `json:"category"`
	IconURL     string            `json:"iconUrl,omitempty"`
	Stats       map[string]string `json:"stats,omitempty"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

type Quest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Objectives  []string `json:"objectives"`
	Rewards     []string `json:"rewards"`
	Difficulty  string   `json:"difficulty"`

	// Completed and Progress are local tracking state. Refreshes from the
	// game API never overwrite them.
	Completed bool `json:"completed"`
	Progress  int  `json:"progress"`
}

type GameEvent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	IsActive    bool   `json:"isActive"`
}

type POI struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	X           float32 `json:"x"`
	Y           float32 `json:"y"`
	Type        string  `json:"type"`
}

type GameMap struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	ImageURL         string `json:"imageUrl,omitempty"`
	PointsOfInterest []POI  `json:"pointsOfInterest,omitempty"`
}

type CraftingComponent struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type CraftingRecipe struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Description    string              `json:"description"`
	Category       string              `json:"category"`
	IconURL        string              `json:"iconUrl,omitempty"`
	State          map[string]string   `json:"state,omitempty"`
	CraftingRecipe []CraftingComponent `json:"craftingRecipe,omitempty"`
	Locations      []string            `json:"locations,omitempty"`
}

type TraderItem struct {
	ItemID   string `json:"itemId"`
	Name     string `json:"name"`
	Price    int    `json:"price"`
	Currency string `json:"currency,omitempty"`
	Stock    int    `json:"stock,omitempty"`
}

type Trader struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Icon      string       `json:"icon,omitempty"`
	Inventory []TraderItem `json:"inventory"`
}

type Arc struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Map         string   `json:"map,omitempty"`
	Loot        []string `json:"loot,omitempty"`
}
