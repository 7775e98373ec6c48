package entity

import "encoding/json"

// EntityTypePerson is the only directory entity type the bureau scores.
const EntityTypePerson = "PERSONA"

// Person is an entry of the upstream core directory.
type Person struct {
	PersonID   string `json:"person_id"`
	FullName   string `json:"full_name"`
	EntityType string `json:"entity_type"`
}

// UnmarshalJSON also understands the field names used by the core service.
func (p *Person) UnmarshalJSON(b []byte) error {
	var raw struct {
		PersonID             string `json:"person_id"`
		FullName             string `json:"full_name"`
		EntityType           string `json:"entity_type"`
		NumeroIdentificacion string `json:"numeroIdentificacion"`
		Nombre               string `json:"nombre"`
		TipoEntidad          string `json:"tipoEntidad"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p.PersonID = firstNonEmpty(raw.PersonID, raw.NumeroIdentificacion)
	p.FullName = firstNonEmpty(raw.FullName, raw.Nombre)
	p.EntityType = firstNonEmpty(raw.EntityType, raw.TipoEntidad)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
