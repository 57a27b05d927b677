package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ersonp/narra-core/internal/application/handlers"
)

type toolFunc = func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

var stringItems = mcp.Items(map[string]any{"type": "string"})

func idParam(name, description string) mcp.ToolOption {
	return mcp.WithString(name, mcp.Required(), mcp.Description(description))
}

func typesParam() mcp.ToolOption {
	return mcp.WithArray("types", stringItems,
		mcp.Description("Entity types to include (character, location, event, scene, knowledge, faction, item). Empty means all."))
}

// required fetches a required string argument, turning its absence into a tool error.
func required(req mcp.CallToolRequest, name string) (string, *mcp.CallToolResult) {
	v, err := req.RequireString(name)
	if err != nil {
		return "", mcp.NewToolResultError("INVALID_PARAMETER: " + err.Error())
	}
	return v, nil
}

func buildTools(h Handlers) []Tool {
	var tools []Tool
	add := func(def mcp.Tool, fn toolFunc) {
		tools = append(tools, Tool{Definition: def, Handle: fn})
	}

	if h.Irony != nil {
		add(mcp.NewTool("narra_irony",
			mcp.WithDescription("Rank dramatic irony: facts one character knows that another does not, or believes wrongly."),
			mcp.WithArray("characters", stringItems, mcp.Description("Character IDs to consider. Empty means every character.")),
			mcp.WithString("target", mcp.Description("Only facts about this entity ID")),
			mcp.WithNumber("limit", mcp.Description("Maximum asymmetries to return, 0 for all"), mcp.DefaultNumber(0)),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return respond(h.Irony.Handle(ctx, handlers.IronyRequest{
				Characters: req.GetStringSlice("characters", nil),
				Target:     req.GetString("target", ""),
				Limit:      req.GetInt("limit", 0),
			}))
		})
	}

	if h.Perception != nil {
		add(mcp.NewTool("narra_perception_gap",
			mcp.WithDescription("Measure how far an observer's latest perception of a target is from the target's actual embedding."),
			idParam("observer", "Observer character ID"),
			idParam("target", "Perceived entity ID"),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			observer, bad := required(req, "observer")
			if bad != nil {
				return bad, nil
			}
			target, bad := required(req, "target")
			if bad != nil {
				return bad, nil
			}
			return respond(h.Perception.Gap(ctx, observer, target))
		})

		add(mcp.NewTool("narra_perception_matrix",
			mcp.WithDescription("Pairwise agreement between observers of one target."),
			idParam("target", "Perceived entity ID"),
			mcp.WithArray("observers", stringItems, mcp.Description("Observer IDs. Empty means everyone who perceived the target.")),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			target, bad := required(req, "target")
			if bad != nil {
				return bad, nil
			}
			return respond(h.Perception.Matrix(ctx, target, req.GetStringSlice("observers", nil)))
		})

		add(mcp.NewTool("narra_perception_shift",
			mcp.WithDescription("How an observer's perception gap of a target evolved over time."),
			idParam("observer", "Observer character ID"),
			idParam("target", "Perceived entity ID"),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			observer, bad := required(req, "observer")
			if bad != nil {
				return bad, nil
			}
			target, bad := required(req, "target")
			if bad != nil {
				return bad, nil
			}
			return respond(h.Perception.Shift(ctx, observer, target))
		})
	}

	if h.Arc != nil {
		add(mcp.NewTool("narra_arc_drift",
			mcp.WithDescription("Total embedding drift of an entity across its snapshots."),
			idParam("entity", "Entity ID"),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, bad := required(req, "entity")
			if bad != nil {
				return bad, nil
			}
			return respond(h.Arc.Drift(ctx, id))
		})

		add(mcp.NewTool("narra_arc_rank",
			mcp.WithDescription("Rank entities by how far their arcs have drifted."),
			typesParam(),
			mcp.WithNumber("limit", mcp.Description("Maximum entities to return, 0 for all"), mcp.DefaultNumber(0)),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return respond(h.Arc.Rank(ctx, req.GetStringSlice("types", nil), req.GetInt("limit", 0)))
		})

		add(mcp.NewTool("narra_arc_history",
			mcp.WithDescription("Every snapshot of an entity with per-step and cumulative drift."),
			idParam("entity", "Entity ID"),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, bad := required(req, "entity")
			if bad != nil {
				return bad, nil
			}
			return respond(h.Arc.History(ctx, id))
		})

		add(mcp.NewTool("narra_arc_compare",
			mcp.WithDescription("Whether two entities' arcs are converging, diverging or stable."),
			idParam("a", "First entity ID"),
			idParam("b", "Second entity ID"),
			mcp.WithString("window", mcp.Description("recent:N or range:FROM..TO with RFC3339 bounds"), mcp.DefaultString("recent:5")),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			a, bad := required(req, "a")
			if bad != nil {
				return bad, nil
			}
			b, bad := required(req, "b")
			if bad != nil {
				return bad, nil
			}
			return respond(h.Arc.Compare(ctx, a, b, req.GetString("window", "recent:5")))
		})

		add(mcp.NewTool("narra_arc_moment",
			mcp.WithDescription("An entity's snapshot as of an event."),
			idParam("entity", "Entity ID"),
			idParam("event", "Event ID"),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, bad := required(req, "entity")
			if bad != nil {
				return bad, nil
			}
			event, bad := required(req, "event")
			if bad != nil {
				return bad, nil
			}
			return respond(h.Arc.Moment(ctx, id, event))
		})
	}

	if h.Influence != nil {
		add(mcp.NewTool("narra_influence",
			mcp.WithDescription("Estimate how likely information spreads from a seed entity over relationships."),
			idParam("seed", "Entity the information starts from"),
			mcp.WithString("fact_ref", mcp.Description("Fact the seed must already hold")),
			mcp.WithString("fact_key", mcp.Description("Fact key as reported by irony, for facts without a reference")),
			mcp.WithNumber("max_depth", mcp.Description("Maximum hops, 0 for the configured default")),
			mcp.WithNumber("min_likelihood", mcp.Description("Prune paths below this likelihood, 0 for the configured default")),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			seed, bad := required(req, "seed")
			if bad != nil {
				return bad, nil
			}
			return respond(h.Influence.Handle(ctx, handlers.InfluenceRequest{
				Seed:          seed,
				FactRef:       req.GetString("fact_ref", ""),
				FactKey:       req.GetString("fact_key", ""),
				MaxDepth:      req.GetInt("max_depth", 0),
				MinLikelihood: req.GetFloat("min_likelihood", 0),
			}))
		})
	}

	if h.Centrality != nil {
		add(mcp.NewTool("narra_centrality",
			mcp.WithDescription("Rank characters by degree, betweenness or closeness in the relationship and perception graph."),
			mcp.WithString("scope", mcp.Description("Only characters within scope_hops of this entity ID. Empty means every character.")),
			mcp.WithNumber("scope_hops", mcp.Description("Hops around the scope, 0 for the default of 3")),
			mcp.WithString("metric", mcp.Description("Ranking metric"), mcp.Enum("degree", "betweenness", "closeness")),
			mcp.WithNumber("limit", mcp.Description("Maximum characters to return, 0 for all"), mcp.DefaultNumber(0)),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return respond(h.Centrality.Handle(ctx, handlers.CentralityRequest{
				Scope:     req.GetString("scope", ""),
				ScopeHops: req.GetInt("scope_hops", 0),
				Metric:    req.GetString("metric", ""),
				Limit:     req.GetInt("limit", 0),
			}))
		})
	}

	if h.Situation != nil {
		add(mcp.NewTool("narra_situation",
			mcp.WithDescription("Summarize the narrative: top irony, false beliefs, high tension pairs, theme count, central characters and suggestions."),
		), func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return respond(h.Situation.Handle(ctx))
		})
	}

	if h.Themes != nil {
		add(mcp.NewTool("narra_themes",
			mcp.WithDescription("Cluster entities into emergent themes by embedding similarity."),
			typesParam(),
			mcp.WithNumber("k", mcp.Description("Number of clusters, 0 to choose automatically"), mcp.DefaultNumber(0)),
			mcp.WithString("seeding", mcp.Description("Seeding strategy"), mcp.Enum("farthest", "random")),
			mcp.WithBoolean("gaps", mcp.Description("Also report clusters that miss expected entity types")),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return respond(h.Themes.Handle(ctx, handlers.ThemeRequest{
				Types:   req.GetStringSlice("types", nil),
				K:       req.GetInt("k", 0),
				Seeding: req.GetString("seeding", ""),
				Gaps:    req.GetBool("gaps", false),
			}))
		})
	}

	if h.Consistency != nil {
		add(mcp.NewTool("narra_validate",
			mcp.WithDescription("Check entities for referential, timeline, universe-fact and relationship violations."),
			mcp.WithString("entity", mcp.Description("Entity ID to validate. Empty validates every entity of the given types.")),
			typesParam(),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return respond(h.Consistency.Validate(ctx, req.GetString("entity", ""), req.GetStringSlice("types", nil)))
		})

		add(mcp.NewTool("narra_investigate",
			mcp.WithDescription("Validate an entity and everything reachable from it within max_depth hops."),
			idParam("entity", "Entity ID"),
			mcp.WithNumber("max_depth", mcp.Description("Maximum hops"), mcp.DefaultNumber(2)),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, bad := required(req, "entity")
			if bad != nil {
				return bad, nil
			}
			return respond(h.Consistency.Investigate(ctx, id, req.GetInt("max_depth", 2)))
		})
	}

	if h.Impact != nil {
		add(mcp.NewTool("narra_impact",
			mcp.WithDescription("Everything a change to an entity may ripple into, graded by severity."),
			idParam("entity", "Entity ID"),
			mcp.WithString("description", mcp.Description("The planned change")),
			mcp.WithNumber("max_depth", mcp.Description("Maximum hops, 0 for the configured default")),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, bad := required(req, "entity")
			if bad != nil {
				return bad, nil
			}
			return respond(h.Impact.Analyze(ctx, id, req.GetString("description", ""), req.GetInt("max_depth", 0)))
		})

		add(mcp.NewTool("narra_deferred_implications",
			mcp.WithDescription("Follow-ups deferred against recorded authoring decisions."),
			mcp.WithBoolean("include_resolved", mcp.Description("Also list resolved implications")),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return respond(h.Impact.Pending(ctx, req.GetBool("include_resolved", false)))
		})
	}

	if h.WhatIf != nil {
		add(mcp.NewTool("narra_whatif",
			mcp.WithDescription("Simulate a character learning a fact without changing the world."),
			idParam("character", "Character ID"),
			mcp.WithString("fact_ref", mcp.Description("Existing ledger fact reference")),
			mcp.WithString("fact", mcp.Description("Fact text when no reference is given")),
			mcp.WithString("target", mcp.Description("Entity the fact is about")),
			mcp.WithString("certainty", mcp.Description("Certainty of the new record"), mcp.DefaultString("knows")),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			character, bad := required(req, "character")
			if bad != nil {
				return bad, nil
			}
			return respond(h.WhatIf.Handle(ctx, handlers.WhatIfRequest{
				Character: character,
				FactRef:   req.GetString("fact_ref", ""),
				Fact:      req.GetString("fact", ""),
				Target:    req.GetString("target", ""),
				Certainty: req.GetString("certainty", ""),
			}))
		})
	}

	if h.Similarity != nil {
		add(mcp.NewTool("narra_similar",
			mcp.WithDescription("Entities whose embeddings are closest to an entity."),
			idParam("entity", "Entity ID"),
			mcp.WithNumber("k", mcp.Description("Number of matches"), mcp.DefaultNumber(handlers.DefaultSimilarityLimit)),
			typesParam(),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, bad := required(req, "entity")
			if bad != nil {
				return bad, nil
			}
			return respond(h.Similarity.Nearest(ctx, id, req.GetInt("k", 0), req.GetStringSlice("types", nil)))
		})

		add(mcp.NewTool("narra_midpoint",
			mcp.WithDescription("Entities closest to the point halfway between two entities."),
			idParam("a", "First entity ID"),
			idParam("b", "Second entity ID"),
			mcp.WithNumber("k", mcp.Description("Number of matches"), mcp.DefaultNumber(handlers.DefaultSimilarityLimit)),
			typesParam(),
		), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			a, bad := required(req, "a")
			if bad != nil {
				return bad, nil
			}
			b, bad := required(req, "b")
			if bad != nil {
				return bad, nil
			}
			return respond(h.Similarity.Midpoint(ctx, a, b, req.GetInt("k", 0), req.GetStringSlice("types", nil)))
		})
	}

	return tools
}
