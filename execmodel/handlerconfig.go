package execmodel

import "encoding/json"

// ProducerDecl declares one producer handler and its cadence. ScheduleValue
// is a Go duration string ("5m") for ScheduleInterval, a 5-field cron
// expression for ScheduleCron.
type ProducerDecl struct {
	Name          string       `json:"name"`
	ScheduleType  ScheduleType `json:"schedule_type"`
	ScheduleValue string       `json:"schedule_value"`
}

// ConsumerDecl declares one consumer handler and the topics whose pending
// events should trigger it (spec.md §4.4 selection-order step 5).
type ConsumerDecl struct {
	Name   string   `json:"name"`
	Topics []string `json:"topics"`
}

// HandlerConfig is the decoded form of Workflow.HandlerConfig: the declared
// producer/consumer set with per-producer schedules (spec.md glossary
// "Workflow"). Validated against a JSON schema before persisting (see
// validate package) so the scheduler can trust its shape on load.
type HandlerConfig struct {
	Producers []ProducerDecl `json:"producers,omitempty"`
	Consumers []ConsumerDecl `json:"consumers,omitempty"`
}

// DecodeHandlerConfig parses Workflow.HandlerConfig. An empty blob decodes
// to a zero-value HandlerConfig (no producers or consumers declared).
func DecodeHandlerConfig(raw []byte) (HandlerConfig, error) {
	if len(raw) == 0 {
		return HandlerConfig{}, nil
	}
	var cfg HandlerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return HandlerConfig{}, err
	}
	return cfg, nil
}

// EncodeHandlerConfig serializes cfg for storage in Workflow.HandlerConfig.
func EncodeHandlerConfig(cfg HandlerConfig) ([]byte, error) {
	return json.Marshal(cfg)
}

// ConsumerByName looks up a declared consumer by name.
func (c HandlerConfig) ConsumerByName(name string) (ConsumerDecl, bool) {
	for _, d := range c.Consumers {
		if d.Name == name {
			return d, true
		}
	}
	return ConsumerDecl{}, false
}

// ProducerByName looks up a declared producer by name.
func (c HandlerConfig) ProducerByName(name string) (ProducerDecl, bool) {
	for _, d := range c.Producers {
		if d.Name == name {
			return d, true
		}
	}
	return ProducerDecl{}, false
}

// ConsumersForTopic returns every declared consumer subscribed to topic.
func (c HandlerConfig) ConsumersForTopic(topic string) []ConsumerDecl {
	var out []ConsumerDecl
	for _, d := range c.Consumers {
		for _, t := range d.Topics {
			if t == topic {
				out = append(out, d)
				break
			}
		}
	}
	return out
}
