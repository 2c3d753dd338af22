package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/andrej220/capstan/pkg/deploy"
	"github.com/andrej220/capstan/pkg/executor"
	"github.com/andrej220/capstan/pkg/inventory"
	"github.com/andrej220/capstan/pkg/recipes"
	"github.com/andrej220/capstan/pkg/task"
	"github.com/go-playground/validator/v10"
)

const CurrentVersion = "1"

// Deployment is the whole configuration of one deployment target set.
type Deployment struct {
	Version        string           `yaml:"version" json:"version" bson:"version" validate:"required,eq=1"`
	Application    string           `yaml:"application" json:"application" bson:"application" validate:"required"`
	DeployTo       string           `yaml:"deploy_to" json:"deploy_to" bson:"deploy_to" validate:"required,startswith=/"`
	CurrentPath    string           `yaml:"current_path,omitempty" json:"current_path,omitempty" bson:"current_path,omitempty" validate:"omitempty,startswith=/"`
	CurrentRelease string           `yaml:"current_release,omitempty" json:"current_release,omitempty" bson:"current_release,omitempty"`
	Facts          map[string]bool  `yaml:"facts,omitempty" json:"facts,omitempty" bson:"facts,omitempty" validate:"dive,keys,fact,endkeys"`
	SSH            SSHSettings      `yaml:"ssh" json:"ssh" bson:"ssh"`
	Executor       ExecutorSettings `yaml:"executor" json:"executor" bson:"executor"`
	Hosts          []inventory.Host `yaml:"hosts" json:"hosts" bson:"hosts" validate:"required,min=1"`
	Recipes        []string         `yaml:"recipes,omitempty" json:"recipes,omitempty" bson:"recipes,omitempty"`
	Tasks          []TaskSpec       `yaml:"tasks,omitempty" json:"tasks,omitempty" bson:"tasks,omitempty" validate:"dive"`
	Service        ServiceSettings  `yaml:"service,omitempty" json:"service,omitempty" bson:"service,omitempty"`
}

// ServiceSettings configure `capstan serve`. Kafka is off while Brokers is empty.
type ServiceSettings struct {
	Port      string        `yaml:"port,omitempty" json:"port,omitempty" bson:"port,omitempty" validate:"omitempty,numeric"`
	ReportDir string        `yaml:"report_dir,omitempty" json:"report_dir,omitempty" bson:"report_dir,omitempty"`
	Workers   int           `yaml:"workers,omitempty" json:"workers,omitempty" bson:"workers,omitempty" validate:"gte=0,lte=64"`
	Kafka     KafkaSettings `yaml:"kafka,omitempty" json:"kafka,omitempty" bson:"kafka,omitempty"`
	// ReportMongo stores reports in MongoDB instead of ReportDir.
	ReportMongo *MongoReportSettings `yaml:"report_mongo,omitempty" json:"report_mongo,omitempty" bson:"report_mongo,omitempty"`
}

type MongoReportSettings struct {
	URI      string `yaml:"uri" json:"-" bson:"uri" validate:"required"`
	DBName   string `yaml:"db_name,omitempty" json:"db_name,omitempty" bson:"db_name,omitempty"`
	CollName string `yaml:"coll_name,omitempty" json:"coll_name,omitempty" bson:"coll_name,omitempty"`
}

type KafkaSettings struct {
	Brokers      []string `yaml:"brokers,omitempty" json:"brokers,omitempty" bson:"brokers,omitempty" validate:"dive,hostname_port"`
	GroupID      string   `yaml:"group_id,omitempty" json:"group_id,omitempty" bson:"group_id,omitempty"`
	RequestTopic string   `yaml:"request_topic,omitempty" json:"request_topic,omitempty" bson:"request_topic,omitempty"`
	ReportTopic  string   `yaml:"report_topic,omitempty" json:"report_topic,omitempty" bson:"report_topic,omitempty"`
}

type SSHSettings struct {
	User                  string        `yaml:"user" json:"user" bson:"user" validate:"required"`
	Password              string        `yaml:"password,omitempty" json:"-" bson:"password,omitempty"`
	KeyFile               string        `yaml:"key_file,omitempty" json:"key_file,omitempty" bson:"key_file,omitempty"`
	KeyPassphrase         string        `yaml:"key_passphrase,omitempty" json:"-" bson:"key_passphrase,omitempty"`
	KnownHosts            string        `yaml:"known_hosts,omitempty" json:"known_hosts,omitempty" bson:"known_hosts,omitempty"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key,omitempty" json:"insecure_ignore_host_key,omitempty" bson:"insecure_ignore_host_key,omitempty"`
	Timeout               time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" bson:"timeout,omitempty"`
}

type ExecutorSettings struct {
	Concurrency     int           `yaml:"concurrency,omitempty" json:"concurrency,omitempty" bson:"concurrency,omitempty" validate:"gte=0,lte=256"`
	Timeout         time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" bson:"timeout,omitempty" validate:"gte=0"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout,omitempty" json:"dispatch_timeout,omitempty" bson:"dispatch_timeout,omitempty" validate:"gte=0"`
	ElevationPrefix string        `yaml:"elevation_prefix,omitempty" json:"elevation_prefix,omitempty" bson:"elevation_prefix,omitempty"`
	SudoUser        string        `yaml:"sudo_user,omitempty" json:"sudo_user,omitempty" bson:"sudo_user,omitempty"`
	Probe           bool          `yaml:"probe,omitempty" json:"probe,omitempty" bson:"probe,omitempty"`
}

// TaskSpec is a task override declared in configuration. Its body runs Command.
type TaskSpec struct {
	Namespace    string   `yaml:"namespace" json:"namespace" bson:"namespace" validate:"required,taskname"`
	Name         string   `yaml:"name" json:"name" bson:"name" validate:"required,taskname"`
	Description  string   `yaml:"description,omitempty" json:"description,omitempty" bson:"description,omitempty"`
	Roles        []string `yaml:"roles,omitempty" json:"roles,omitempty" bson:"roles,omitempty"`
	Except       string   `yaml:"except,omitempty" json:"except,omitempty" bson:"except,omitempty"`
	AllowNoHosts bool     `yaml:"allow_no_hosts,omitempty" json:"allow_no_hosts,omitempty" bson:"allow_no_hosts,omitempty"`
	Command      string   `yaml:"command,omitempty" json:"command,omitempty" bson:"command,omitempty"`
	Privileged   bool     `yaml:"privileged,omitempty" json:"privileged,omitempty" bson:"privileged,omitempty"`
}

var (
	validate = validator.New()
	nameRe   = regexp.MustCompile(`^[a-z_][a-z0-9_-]*$`)
)

func init() {
	_ = validate.RegisterValidation("taskname", func(fl validator.FieldLevel) bool {
		return nameRe.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("fact", func(fl validator.FieldLevel) bool {
		return nameRe.MatchString(fl.Field().String())
	})
}

func (d *Deployment) applyDefaults() {
	if d.Version == "" {
		d.Version = CurrentVersion
	}
	if len(d.Recipes) == 0 {
		d.Recipes = []string{"default"}
	}
	if d.Service.Port == "" {
		d.Service.Port = "8084"
	}
	if d.Service.ReportDir == "" {
		d.Service.ReportDir = "reports"
	}
	if m := d.Service.ReportMongo; m != nil {
		if m.DBName == "" {
			m.DBName = "capstan"
		}
		if m.CollName == "" {
			m.CollName = "reports"
		}
	}
	if k := &d.Service.Kafka; len(k.Brokers) > 0 {
		if k.GroupID == "" {
			k.GroupID = "capstan"
		}
		if k.RequestTopic == "" {
			k.RequestTopic = "capstan-requests"
		}
		if k.ReportTopic == "" {
			k.ReportTopic = "capstan-reports"
		}
	}
}

// Validate checks the document, its hosts and that every declared task compiles.
func (d *Deployment) Validate() error {
	if err := validate.Struct(d); err != nil {
		return err
	}
	if err := inventory.Validate(d.Hosts); err != nil {
		return err
	}
	if d.SSH.KeyFile == "" && d.SSH.Password == "" {
		return fmt.Errorf("ssh: key_file or password is required")
	}
	for _, name := range d.Recipes {
		if _, err := recipes.Lookup(name); err != nil {
			return err
		}
	}
	for _, ts := range d.Tasks {
		if _, err := ts.Definition(); err != nil {
			return err
		}
	}
	return nil
}

// Definition builds the task definition this entry declares.
func (ts TaskSpec) Definition() (task.Definition, error) {
	except, err := task.Except(ts.Except)
	if err != nil {
		return task.Definition{}, fmt.Errorf("task %s:%s: %w", ts.Namespace, ts.Name, err)
	}
	def := task.Definition{
		Key:          task.NewKey(ts.Namespace, ts.Name),
		Description:  ts.Description,
		Roles:        ts.Roles,
		Except:       except,
		AllowNoHosts: ts.AllowNoHosts,
	}
	switch {
	case ts.Command == "":
	case ts.Privileged:
		def.Body = recipes.Privileged(ts.Command)
	default:
		def.Body = recipes.Plain(ts.Command)
	}
	if err := def.Validate(); err != nil {
		return task.Definition{}, err
	}
	return def, nil
}

// Registry applies the recipes in order and then the declared tasks, so a task
// declared in the configuration overrides any recipe task with the same key.
func (d *Deployment) Registry() (*task.Registry, error) {
	reg := task.NewRegistry()
	if err := recipes.Apply(reg, d.Recipes...); err != nil {
		return nil, err
	}
	for _, ts := range d.Tasks {
		def, err := ts.Definition()
		if err != nil {
			return nil, err
		}
		reg.Register(def)
	}
	return reg, nil
}

// State returns the deployment state, optionally with a different current release.
func (d *Deployment) State() deploy.State {
	flags := make(map[string]bool, len(d.Facts))
	for k, v := range d.Facts {
		flags[k] = v
	}
	return deploy.State{
		Application:    d.Application,
		DeployTo:       d.DeployTo,
		CurrentPath:    d.CurrentPath,
		CurrentRelease: d.CurrentRelease,
		Flags:          flags,
	}
}

func (d *Deployment) ExecutorConfig() executor.Config {
	return executor.Config{
		Concurrency: d.Executor.Concurrency,
		Timeout:     d.Executor.Timeout,
		Elevator: executor.Elevator{
			Prefix: d.Executor.ElevationPrefix,
			User:   d.Executor.SudoUser,
		},
	}
}

func (d *Deployment) SSHConfig() executor.SSHConfig {
	return executor.SSHConfig{
		User:                  d.SSH.User,
		Password:              d.SSH.Password,
		KeyFile:               d.SSH.KeyFile,
		KeyPassphrase:         d.SSH.KeyPassphrase,
		KnownHostsFile:        d.SSH.KnownHosts,
		InsecureIgnoreHostKey: d.SSH.InsecureIgnoreHostKey,
		Timeout:               d.SSH.Timeout,
	}
}
