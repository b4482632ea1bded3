package settings

import (
	"fmt"
	"slices"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
)

// Document is the persisted configuration tree:
// global switch, bot accounts, their groups and the groups' subscriptions.
type Document struct {
	Enable bool            `json:"enable" yaml:"enable"`
	Bots   map[string]*Bot `json:"bots" yaml:"bots"`
}

type Bot struct {
	Enable bool              `json:"enable" yaml:"enable"`
	Groups map[string]*Group `json:"groups" yaml:"groups"`
}

type Group struct {
	Enable      bool                  `json:"enable" yaml:"enable"`
	EnableQuery bool                  `json:"enable_query" yaml:"enable_query"`
	EnableCheck bool                  `json:"enable_check" yaml:"enable_check"`
	Servers     []domain.Subscription `json:"servers" yaml:"servers"`
}

// DefaultDocument is written when the backend holds nothing yet.
func DefaultDocument() *Document {
	return &Document{Enable: true, Bots: make(map[string]*Bot)}
}

func newBot() *Bot {
	return &Bot{Enable: false, Groups: make(map[string]*Group)}
}

func newGroup() *Group {
	return &Group{
		Enable:      false,
		EnableQuery: true,
		EnableCheck: true,
		Servers:     []domain.Subscription{},
	}
}

func (g *Group) flags() domain.EnableFlags {
	return domain.EnableFlags{
		Enabled:      g.Enable,
		QueryAllowed: g.EnableQuery,
		CheckAllowed: g.EnableCheck,
	}
}

func (g *Group) indexOf(name string) int {
	return slices.IndexFunc(g.Servers, func(s domain.Subscription) bool {
		return s.Name == name
	})
}

func (g *Group) clone() *Group {
	c := *g
	c.Servers = slices.Clone(g.Servers)
	if c.Servers == nil {
		c.Servers = []domain.Subscription{}
	}
	return &c
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	c := &Document{Enable: d.Enable, Bots: make(map[string]*Bot, len(d.Bots))}
	for id, bot := range d.Bots {
		nb := &Bot{Enable: bot.Enable, Groups: make(map[string]*Group, len(bot.Groups))}
		for gid, g := range bot.Groups {
			nb.Groups[gid] = g.clone()
		}
		c.Bots[id] = nb
	}
	return c
}

// group returns the group of ref without creating anything.
func (d *Document) group(ref domain.SubscriberRef) (*Bot, *Group) {
	bot, ok := d.Bots[ref.AccountID]
	if !ok {
		return nil, nil
	}
	return bot, bot.Groups[ref.GroupID]
}

// ensureGroup returns the group of ref, creating the bot and the group with
// their defaults when missing. Only mutations call it.
func (d *Document) ensureGroup(ref domain.SubscriberRef) *Group {
	bot := d.ensureBot(ref.AccountID)
	g, ok := bot.Groups[ref.GroupID]
	if !ok {
		g = newGroup()
		bot.Groups[ref.GroupID] = g
	}
	return g
}

func (d *Document) ensureBot(id string) *Bot {
	if d.Bots == nil {
		d.Bots = make(map[string]*Bot)
	}
	bot, ok := d.Bots[id]
	if !ok {
		bot = newBot()
		d.Bots[id] = bot
	}
	return bot
}

// normalize fills nil collections and canonicalizes subscription fields
// as read from disk, then validates the tree.
func (d *Document) normalize() error {
	if d.Bots == nil {
		d.Bots = make(map[string]*Bot)
	}
	for botID, bot := range d.Bots {
		if bot == nil {
			return fmt.Errorf("%w: bots.%s is null", ErrMalformed, botID)
		}
		if bot.Groups == nil {
			bot.Groups = make(map[string]*Group)
		}
		for groupID, g := range bot.Groups {
			if g == nil {
				return fmt.Errorf("%w: bots.%s.groups.%s is null", ErrMalformed, botID, groupID)
			}
			if g.Servers == nil {
				g.Servers = []domain.Subscription{}
			}
			for i := range g.Servers {
				kind, err := domain.ParseProtocol(string(g.Servers[i].Protocol))
				if err != nil {
					return fmt.Errorf("%w: bots.%s.groups.%s.servers.%d: %v", ErrMalformed, botID, groupID, i, err)
				}
				g.Servers[i].Protocol = kind
				g.Servers[i].Host = domain.NormalizeHost(g.Servers[i].Host)
			}
		}
	}
	return d.validate()
}

func (d *Document) validate() error {
	for botID, bot := range d.Bots {
		for groupID, g := range bot.Groups {
			seen := make(map[string]struct{}, len(g.Servers))
			for i, sub := range g.Servers {
				if err := sub.Validate(); err != nil {
					return fmt.Errorf("%w: bots.%s.groups.%s.servers.%d: %v", ErrMalformed, botID, groupID, i, err)
				}
				if _, dup := seen[sub.Name]; dup {
					return fmt.Errorf("%w: bots.%s.groups.%s: duplicate server name %q", ErrMalformed, botID, groupID, sub.Name)
				}
				seen[sub.Name] = struct{}{}
			}
		}
	}
	return nil
}

// Bindings flattens the tree into subscriber/subscription pairs, ordered by
// bot, group and position in the group.
func (d *Document) Bindings() []domain.Binding {
	var out []domain.Binding
	for _, botID := range sortedKeys(d.Bots) {
		bot := d.Bots[botID]
		for _, groupID := range sortedKeys(bot.Groups) {
			ref := domain.SubscriberRef{AccountID: botID, GroupID: groupID}
			for _, sub := range bot.Groups[groupID].Servers {
				out = append(out, domain.Binding{Subscriber: ref, Subscription: sub})
			}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
