package metaforge

import (
	"context"
	"net/url"
	"strconv"

	"github.com/djlord-it/arc-companion/internal/domain"
)

// Filter narrows the event-timer listing. Empty fields are not sent.
type Filter struct {
	Map  string
	Name string
}

func (f Filter) values() url.Values {
	q := url.Values{}
	if f.Map != "" {
		q.Set("map", f.Map)
	}
	if f.Name != "" {
		q.Set("name", f.Name)
	}
	return q
}

type eventTimersResponse struct {
	Success bool                `json:"success"`
	Data    []domain.EventTimer `json:"data"`
}

// EventTimers lists recurring event schedules. A response flagged
// unsuccessful yields an empty list.
func (c *Client) EventTimers(ctx context.Context, f Filter) ([]domain.EventTimer, error) {
	var resp eventTimersResponse
	if err := c.get(ctx, "event-timers", "event-timers", f.values(), &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, nil
	}
	return resp.Data, nil
}

// ItemQuery selects a page of items. Zero Page and PageSize use the API
// defaults (1 and 20).
type ItemQuery struct {
	Page     int
	PageSize int
	Rarity   string
	Category string
}

func (q ItemQuery) values() url.Values {
	v := url.Values{}
	page, size := q.Page, q.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	v.Set("page", strconv.Itoa(page))
	v.Set("pageSize", strconv.Itoa(size))
	if q.Rarity != "" {
		v.Set("rarity", q.Rarity)
	}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	return v
}

type ItemsPage struct {
	Items      []domain.Item     `json:"items"`
	Pagination domain.Pagination `json:"pagination"`
}

func (c *Client) Items(ctx context.Context, q ItemQuery) (ItemsPage, error) {
	var page ItemsPage
	err := c.get(ctx, "items", "items", q.values(), &page)
	return page, err
}

// AllItems walks every page of the item listing.
func (c *Client) AllItems(ctx context.Context, pageSize int) ([]domain.Item, error) {
	var all []domain.Item
	for page := 1; ; page++ {
		p, err := c.Items(ctx, ItemQuery{Page: page, PageSize: pageSize})
		if err != nil {
			return nil, err
		}
		all = append(all, p.Items...)
		if len(p.Items) == 0 || page >= p.Pagination.TotalPages {
			return all, nil
		}
	}
}

func (c *Client) Item(ctx context.Context, id string) (domain.Item, error) {
	var item domain.Item
	err := c.get(ctx, "items", "items/"+url.PathEscape(id), nil, &item)
	return item, err
}

func (c *Client) Quests(ctx context.Context) ([]domain.Quest, error) {
	var quests []domain.Quest
	err := c.get(ctx, "quests", "quests", nil, &quests)
	return quests, err
}

func (c *Client) Quest(ctx context.Context, id string) (domain.Quest, error) {
	var quest domain.Quest
	err := c.get(ctx, "quests", "quests/"+url.PathEscape(id), nil, &quest)
	return quest, err
}

func (c *Client) Events(ctx context.Context) ([]domain.GameEvent, error) {
	var events []domain.GameEvent
	err := c.get(ctx, "events", "events", nil, &events)
	return events, err
}

func (c *Client) Maps(ctx context.Context) ([]domain.GameMap, error) {
	var maps []domain.GameMap
	err := c.get(ctx, "maps", "maps", nil, &maps)
	return maps, err
}

func (c *Client) Map(ctx context.Context, id string) (domain.GameMap, error) {
	var m domain.GameMap
	err := c.get(ctx, "maps", "maps/"+url.PathEscape(id), nil, &m)
	return m, err
}

func (c *Client) Crafting(ctx context.Context) ([]domain.CraftingRecipe, error) {
	var recipes []domain.CraftingRecipe
	err := c.get(ctx, "crafting", "crafting", nil, &recipes)
	return recipes, err
}

func (c *Client) CraftingRecipe(ctx context.Context, id string) (domain.CraftingRecipe, error) {
	var recipe domain.CraftingRecipe
	err := c.get(ctx, "crafting", "crafting/"+url.PathEscape(id), nil, &recipe)
	return recipe, err
}

type tradersResponse struct {
	Success bool            `json:"success"`
	Data    []domain.Trader `json:"data"`
}

func (c *Client) Traders(ctx context.Context) ([]domain.Trader, error) {
	var resp tradersResponse
	if err := c.get(ctx, "traders", "traders", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

type arcsResponse struct {
	Success bool         `json:"success"`
	Data    []domain.Arc `json:"data"`
}

func (c *Client) Arcs(ctx context.Context) ([]domain.Arc, error) {
	var resp arcsResponse
	if err := c.get(ctx, "arcs", "arcs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}
