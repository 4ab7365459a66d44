package memory

// Clone returns a deep copy of the episode. Content values are copied
// shallowly.
func (e *Episode) Clone() *Episode {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Content != nil {
		clone.Content = make(map[string]any, len(e.Content))
		for key, value := range e.Content {
			clone.Content[key] = value
		}
	}
	if e.Tags != nil {
		clone.Tags = append([]string(nil), e.Tags...)
	}
	return &clone
}

// Clone returns a deep copy of the knowledge record.
func (k *SemanticKnowledge) Clone() *SemanticKnowledge {
	if k == nil {
		return nil
	}
	clone := *k
	if k.SourceEpisodes != nil {
		clone.SourceEpisodes = append([]string(nil), k.SourceEpisodes...)
	}
	if k.Tags != nil {
		clone.Tags = append([]string(nil), k.Tags...)
	}
	return &clone
}
