package repositories

import "encoding/json"

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	out, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func unmarshalStrings(raw string, into *[]string) error {
	if raw == "" {
		*into = nil
		return nil
	}
	return json.Unmarshal([]byte(raw), into)
}
