package types

// JSONMap is a string→string mapping persisted as a jsonb column.
type JSONMap map[string]string
