package catalog

import "github.com/ChuLiYu/faction-ambush/pkg/types"

// Default returns the built-in catalog used when no catalog file is set
func Default() *Catalog {
	c, err := New(map[types.FactionID]map[int][]Unit{
		"bandits": {
			1: {{Template: -1030822544, Count: 2}},
			2: {{Template: -1030822544, Count: 2}, {Template: -1128238456, Count: 1}},
			3: {{Template: -301730941, Count: 1}, {Template: -1030822544, Count: 2}, {Template: -1128238456, Count: 1}},
			4: {{Template: -301730941, Count: 1}, {Template: -1128238456, Count: 2}, {Template: 1117226802, Count: 1}},
			5: {{Template: 1124739990, Count: 1}, {Template: -301730941, Count: 2}, {Template: 1117226802, Count: 2}},
		},
		"militia": {
			1: {{Template: -1474217089, Count: 2}},
			2: {{Template: -1474217089, Count: 2}, {Template: 1148936156, Count: 1}},
			3: {{Template: 794228023, Count: 1}, {Template: -1474217089, Count: 2}},
			4: {{Template: 794228023, Count: 2}, {Template: 1148936156, Count: 2}},
			5: {{Template: -1719944550, Count: 1}, {Template: 794228023, Count: 2}, {Template: 1148936156, Count: 2}},
		},
		"undead": {
			1: {{Template: -1584807109, Count: 3}},
			3: {{Template: 1218339832, Count: 1}, {Template: -1584807109, Count: 3}},
			5: {{Template: -1365931036, Count: 1}, {Template: 1218339832, Count: 2}, {Template: -1584807109, Count: 3}},
		},
	})
	if err != nil {
		panic(err)
	}
	return c
}
