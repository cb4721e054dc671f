package agent

import (
	"context"

	"google.golang.org/genai"

	"portablebrain/internal/llm"
	"portablebrain/internal/retriever"
	"portablebrain/internal/store"
	"portablebrain/internal/types"
)

const defaultToolLimit = 10

func limitParam() *genai.Schema {
	return &genai.Schema{Type: genai.TypeInteger, Description: "Maximum rows to return. Defaults to 10."}
}

// retrievalDeclarations describes the memory tools offered to the retrieval
// agent. Keep in sync with retrievalExecutors.
func retrievalDeclarations() []*genai.FunctionDeclaration {
	return []*genai.FunctionDeclaration{
		{
			Name:        "get_people_relationships",
			Description: "Fetch long_term_people observations: relationships and facts about people the user knows. Optionally narrowed to one person.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"person_id": {Type: genai.TypeString, Description: "Person identifier, e.g. sarah_smith. Omit for all people."},
					"limit":     limitParam(),
				},
			},
		},
		{
			Name:        "get_long_term_preferences",
			Description: "Fetch long_term_preferences observations: established app and workflow preferences.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"source_app_id": {Type: genai.TypeString, Description: "App package to narrow to, e.g. com.spotify.music."},
					"limit":         limitParam(),
				},
			},
		},
		{
			Name:        "get_short_term_preferences",
			Description: "Fetch short_term_preferences observations: what the user has been doing recently.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"source_app_id": {Type: genai.TypeString, Description: "App package to narrow to."},
					"limit":         limitParam(),
				},
			},
		},
		{
			Name:        "get_recent_content",
			Description: "Fetch short_term_content observations: content items the user viewed recently.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"source_id":  {Type: genai.TypeString, Description: "App package the content was seen in."},
					"content_id": {Type: genai.TypeString, Description: "Specific content item id."},
					"limit":      limitParam(),
				},
			},
		},
		{
			Name:        "get_all_observations_about_entity",
			Description: "Fetch every observation referencing an entity (person, app, or content item) across all memory types.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"entity_id":   {Type: genai.TypeString, Description: "Entity identifier."},
					"entity_type": {Type: genai.TypeString, Description: "person, app, or content. Omit to match any role."},
					"limit":       limitParam(),
				},
				Required: []string{"entity_id"},
			},
		},
		{
			Name:        "search_memories",
			Description: "Keyword full-text search over observation text, ranked by relevance.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"query":       {Type: genai.TypeString, Description: "Keywords to search for."},
					"memory_type": {Type: genai.TypeString, Description: "Restrict to one memory type: long_term_people, long_term_preferences, short_term_preferences, or short_term_content."},
					"limit":       limitParam(),
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "get_top_relevant_memories",
			Description: "Fetch the observations with the highest importance and recurrence.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"memory_type": {Type: genai.TypeString, Description: "Restrict to one memory type."},
					"limit":       limitParam(),
				},
			},
		},
		{
			Name:        "find_person_by_name",
			Description: "Fuzzy-match people by name. Tolerates typos and partial names.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":                 {Type: genai.TypeString, Description: "Name as the user said it."},
					"similarity_threshold": {Type: genai.TypeNumber, Description: "Match score floor in [0,1]. Defaults to 0.3."},
					"limit":                limitParam(),
				},
				Required: []string{"name"},
			},
		},
		{
			Name:        "find_similar_person_relationships",
			Description: "Rank people by how well their relationship to the user matches a free-text description, e.g. 'my climbing partner'.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"query": {Type: genai.TypeString, Description: "Relationship description."},
					"limit": limitParam(),
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "get_embedding_for_observation",
			Description: "Fetch the stored semantic-memory row (text and metadata) for one observation id.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"observation_id": {Type: genai.TypeString, Description: "Observation identifier."},
				},
				Required: []string{"observation_id"},
			},
		},
		{
			Name:        "get_person_by_id",
			Description: "Fetch one person's full record by identifier.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"person_id": {Type: genai.TypeString, Description: "Person identifier, e.g. sarah_smith."},
				},
				Required: []string{"person_id"},
			},
		},
		{
			Name:        "find_semantically_similar",
			Description: "Meaning-based search over observation text. Use when keywords are unlikely to match the stored wording.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"query":  {Type: genai.TypeString, Description: "Natural-language query."},
					"limit":  limitParam(),
					"metric": {Type: genai.TypeString, Description: "cosine, l2, or inner_product. Defaults to cosine."},
				},
				Required: []string{"query"},
			},
		},
	}
}

// retrievalExecutors binds the declarations to the retriever.
func retrievalExecutors(r *retriever.Retriever) map[string]llm.Executor {
	return map[string]llm.Executor{
		"get_people_relationships": func(ctx context.Context, args map[string]any) (any, error) {
			return r.PeopleRelationships(ctx, argString(args, "person_id"), argLimit(args))
		},
		"get_long_term_preferences": func(ctx context.Context, args map[string]any) (any, error) {
			return r.LongTermPreferences(ctx, argString(args, "source_app_id"), argLimit(args))
		},
		"get_short_term_preferences": func(ctx context.Context, args map[string]any) (any, error) {
			return r.ShortTermPreferences(ctx, argString(args, "source_app_id"), argLimit(args))
		},
		"get_recent_content": func(ctx context.Context, args map[string]any) (any, error) {
			return r.RecentContent(ctx, argString(args, "source_id"), argString(args, "content_id"), argLimit(args))
		},
		"get_all_observations_about_entity": func(ctx context.Context, args map[string]any) (any, error) {
			return r.ObservationsAboutEntity(ctx, argString(args, "entity_id"), argString(args, "entity_type"), argLimit(args))
		},
		"search_memories": func(ctx context.Context, args map[string]any) (any, error) {
			return r.SearchMemories(ctx, argString(args, "query"), types.MemoryType(argString(args, "memory_type")), argLimit(args))
		},
		"get_top_relevant_memories": func(ctx context.Context, args map[string]any) (any, error) {
			return r.TopRelevantMemories(ctx, types.MemoryType(argString(args, "memory_type")), argLimit(args))
		},
		"find_person_by_name": func(ctx context.Context, args map[string]any) (any, error) {
			return r.FindPersonByName(ctx, argString(args, "name"), argFloat(args, "similarity_threshold"), argLimit(args))
		},
		"find_similar_person_relationships": func(ctx context.Context, args map[string]any) (any, error) {
			return r.FindSimilarPersonRelationships(ctx, argString(args, "query"), argLimit(args))
		},
		"get_embedding_for_observation": func(ctx context.Context, args map[string]any) (any, error) {
			return r.EmbeddingForObservation(ctx, argString(args, "observation_id"))
		},
		"get_person_by_id": func(ctx context.Context, args map[string]any) (any, error) {
			return r.PersonByID(ctx, argString(args, "person_id"))
		},
		"find_semantically_similar": func(ctx context.Context, args map[string]any) (any, error) {
			metric := store.DistanceMetric(argString(args, "metric"))
			return r.FindSemanticallySimilar(ctx, argString(args, "query"), argLimit(args), metric, false)
		},
	}
}

// executeCommandDeclaration is the execution agent's single tool.
func executeCommandDeclaration() []*genai.FunctionDeclaration {
	return []*genai.FunctionDeclaration{{
		Name:        "execute_command",
		Description: "Run one natural-language command on the user's Android device. The command must be self-contained: name the app, the person, and the content explicitly.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"enriched_command": {Type: genai.TypeString, Description: "The fully disambiguated command."},
				"reasoning":        {Type: genai.TypeString, Description: "Why this phrasing, for the device log."},
				"timeout_seconds":  {Type: genai.TypeInteger, Description: "Per-command timeout override."},
			},
			Required: []string{"enriched_command"},
		},
	}}
}

// Model-produced args are JSON primitives: numbers arrive as float64.

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argFloat(args map[string]any, key string) float64 {
	f, _ := args[key].(float64)
	return f
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func argLimit(args map[string]any) int {
	if n := argInt(args, "limit"); n > 0 {
		return n
	}
	return defaultToolLimit
}
